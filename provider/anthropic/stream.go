package anthropic

import (
	"context"
	"io"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/council/provider"
)

// streamer adapts an Anthropic Messages SSE stream to provider.Streamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan provider.StreamChunk

	errMu    sync.Mutex
	finalErr error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) provider.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		chunks: make(chan provider.StreamChunk, 32),
	}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.chunks)
	var message sdk.Message
	for s.stream.Next() {
		event := s.stream.Current()
		if err := message.Accumulate(event); err != nil {
			s.setErr(err)
			return
		}
		switch variant := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			if textDelta, ok := variant.Delta.AsAny().(sdk.TextDelta); ok && textDelta.Text != "" {
				select {
				case s.chunks <- provider.StreamChunk{TextDelta: textDelta.Text}:
				case <-s.ctx.Done():
					return
				}
			}
		case sdk.MessageDeltaEvent:
			if variant.Delta.StopReason != "" {
				select {
				case s.chunks <- provider.StreamChunk{FinishReason: translateStopReason(string(variant.Delta.StopReason))}:
				case <-s.ctx.Done():
					return
				}
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		s.setErr(err)
	}
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.finalErr == nil {
		s.finalErr = err
	}
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

func (s *streamer) Recv() (provider.StreamChunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return provider.StreamChunk{}, err
		}
		return provider.StreamChunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return provider.StreamChunk{}, err
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}
