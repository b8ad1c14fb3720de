package bedrock

import (
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/council/provider"
)

// streamer adapts a Bedrock ConverseStream event stream to provider.Streamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream

	chunks chan provider.StreamChunk

	errMu    sync.Mutex
	finalErr error
}

func newStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream) provider.Streamer {
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
	defer func() { _ = s.stream.Close() }()

	events := s.stream.Events()
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.setErr(err)
				}
				return
			}
			if done := s.handle(event); done {
				return
			}
		}
	}
}

func (s *streamer) handle(event any) (done bool) {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		if textDelta, ok := ev.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok && textDelta.Value != "" {
			select {
			case s.chunks <- provider.StreamChunk{TextDelta: textDelta.Value}:
			case <-s.ctx.Done():
				return true
			}
		}
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		select {
		case s.chunks <- provider.StreamChunk{FinishReason: translateStopReason(string(ev.Value.StopReason))}:
		case <-s.ctx.Done():
			return true
		}
	}
	return false
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
