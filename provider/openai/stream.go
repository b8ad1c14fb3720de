package openai

import (
	"context"
	"io"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"goa.design/council/provider"
)

// streamer adapts an OpenAI Chat Completions SSE stream to provider.Streamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[openai.ChatCompletionChunk]

	chunks chan provider.StreamChunk

	errMu    sync.Mutex
	finalErr error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk]) provider.Streamer {
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
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		out := provider.StreamChunk{TextDelta: choice.Delta.Content}
		if choice.FinishReason != "" {
			out.FinishReason = translateFinishReason(choice.FinishReason)
		}
		if out.TextDelta == "" && out.FinishReason == "" {
			continue
		}
		select {
		case s.chunks <- out:
		case <-s.ctx.Done():
			return
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
