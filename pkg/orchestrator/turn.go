package orchestrator

import (
	"context"
	"errors"
	"io"

	"github.com/harun/enso/pkg/model"
)

// TurnState is the lifecycle stage of one underlying model call.
type TurnState string

const (
	TurnStarted       TurnState = "started"
	TurnStreaming     TurnState = "streaming"
	TurnFinished      TurnState = "finished"
	TurnError         TurnState = "error"
	TurnInvalidStream TurnState = "invalid-stream"
	TurnLoopDetected  TurnState = "loop-detected"
	TurnCancelled     TurnState = "cancelled"
)

// turnResult is everything one model call produced.
type turnResult struct {
	state     TurnState
	text      string
	toolCalls []model.ToolCall
	citations []string
	finish    model.FinishReason
	usage     model.TokenUsage
	err       error
}

// runTurn issues one model call and consumes its stream. Every chunk passes
// loop detection; a positive match aborts the call. Stream failures are
// classified as invalid-stream when they look like a cut or throttled
// connection, so the caller can retry once with a continuation request.
func runTurn(ctx context.Context, client model.Client, req model.Request, cfg model.Config, onText func(string)) turnResult {
	res := turnResult{state: TurnStarted}

	stream, err := client.Stream(ctx, req, cfg)
	if err != nil {
		return classifyTurnError(ctx, res, err)
	}

	res.state = TurnStreaming
	detector := newLoopDetector()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return classifyTurnError(ctx, res, err)
		}

		if detector.Observe(chunk) {
			res.state = TurnLoopDetected
			return res
		}

		if chunk.Text != "" {
			res.text += chunk.Text
			if onText != nil {
				onText(chunk.Text)
			}
		}
		res.toolCalls = append(res.toolCalls, chunk.ToolCalls...)
		res.citations = append(res.citations, chunk.Citations...)
		if chunk.FinishReason != model.FinishNone {
			res.finish = chunk.FinishReason
		}
		if chunk.Usage != nil {
			res.usage = *chunk.Usage
		}
	}

	res.state = TurnFinished
	return res
}

func classifyTurnError(ctx context.Context, res turnResult, err error) turnResult {
	res.err = err
	switch {
	case ctx.Err() != nil:
		res.state = TurnCancelled
	case errors.Is(err, io.ErrUnexpectedEOF) || model.IsRetryableError(err):
		res.state = TurnInvalidStream
	default:
		res.state = TurnError
	}
	return res
}
