package gemini

import (
	"context"
	"io"
	"iter"
	"sync"

	"google.golang.org/genai"

	"goa.design/council/provider"
)

// streamer adapts the Gemini GenerateContentStream iterator to
// provider.Streamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc

	chunks chan provider.StreamChunk

	errMu    sync.Mutex
	finalErr error
}

func newStreamer(ctx context.Context, seq iter.Seq2[*genai.GenerateContentResponse, error]) provider.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		chunks: make(chan provider.StreamChunk, 32),
	}
	go s.run(seq)
	return s
}

func (s *streamer) run(seq iter.Seq2[*genai.GenerateContentResponse, error]) {
	defer close(s.chunks)
	for resp, err := range seq {
		if err != nil {
			s.setErr(err)
			return
		}
		if resp == nil || len(resp.Candidates) == 0 {
			continue
		}
		candidate := resp.Candidates[0]
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if part.Text == "" {
					continue
				}
				select {
				case s.chunks <- provider.StreamChunk{TextDelta: part.Text}:
				case <-s.ctx.Done():
					return
				}
			}
		}
		if candidate.FinishReason != "" {
			select {
			case s.chunks <- provider.StreamChunk{FinishReason: translateFinishReason(string(candidate.FinishReason))}:
			case <-s.ctx.Done():
				return
			}
		}
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
	return nil
}
