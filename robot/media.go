// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package robot

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// MediaSink receives the robot's audio and video tracks. HandleTrack
// runs on its own goroutine per track and may block reading RTP until
// the track ends.
type MediaSink interface {
	HandleTrack(track *webrtc.TrackRemote)
}

// MediaSinkFunc adapts a function to MediaSink.
type MediaSinkFunc func(track *webrtc.TrackRemote)

func (f MediaSinkFunc) HandleTrack(track *webrtc.TrackRemote) { f(track) }

// FileSink records every remote track to a file in Dir: H264 as an
// Annex B stream, VP8 as IVF, Opus as Ogg. Tracks in other codecs are
// drained and discarded. Each track gets its own file named after its
// kind and SSRC, so a reconnect starts new files.
type FileSink struct {
	Dir    string
	Logger *slog.Logger

	mu    sync.Mutex
	files []string
}

// NewFileSink records tracks into dir, which must exist.
func NewFileSink(dir string, logger *slog.Logger) *FileSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{Dir: dir, Logger: logger}
}

// Files lists the files opened so far, in order.
func (s *FileSink) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

func (s *FileSink) HandleTrack(track *webrtc.TrackRemote) {
	codec := track.Codec()
	logger := s.Logger.With("kind", track.Kind().String(), "codec", codec.MimeType, "ssrc", uint32(track.SSRC()))

	writer, path, err := s.open(track.Kind(), track.SSRC(), codec)
	if err != nil {
		logger.Warn("not recording track", "error", err)
		drain(track)
		return
	}
	logger.Info("recording track", "path", path)

	s.mu.Lock()
	s.files = append(s.files, path)
	s.mu.Unlock()

	packets := 0
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("track read ended", "error", err)
			}
			break
		}
		if err := writer.WriteRTP(packet); err != nil {
			logger.Warn("writing track packet", "error", err)
			break
		}
		packets++
	}
	if err := writer.Close(); err != nil {
		logger.Warn("closing track file", "path", path, "error", err)
	}
	logger.Info("track recording finished", "path", path, "packets", packets)
}

func (s *FileSink) open(kind webrtc.RTPCodecType, ssrc webrtc.SSRC, codec webrtc.RTPCodecParameters) (media.Writer, string, error) {
	base := filepath.Join(s.Dir, fmt.Sprintf("%s-%d", kind, uint32(ssrc)))
	switch strings.ToLower(codec.MimeType) {
	case strings.ToLower(webrtc.MimeTypeH264):
		path := base + ".h264"
		writer, err := h264writer.New(path)
		return writer, path, err
	case strings.ToLower(webrtc.MimeTypeVP8):
		path := base + ".ivf"
		writer, err := ivfwriter.New(path)
		return writer, path, err
	case strings.ToLower(webrtc.MimeTypeOpus):
		path := base + ".ogg"
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		writer, err := oggwriter.New(path, codec.ClockRate, channels)
		return writer, path, err
	default:
		return nil, "", fmt.Errorf("no file format for %s", codec.MimeType)
	}
}

// drain reads and discards RTP until the track ends so pion's buffers
// do not fill.
func drain(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}
