package upstream

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ledgergate/ledgergate/internal/adapter"
	"github.com/ledgergate/ledgergate/internal/domain"
)

// BedrockCaller executes adapter-built bodies through InvokeModel and
// InvokeModelWithResponseStream. The SDK handles SigV4 signing and decodes
// the binary event-stream framing; Stream yields the JSON payload of each
// chunk so the bedrock stream decoders see the same raw events as SSE ones.
type BedrockCaller struct {
	client *bedrockruntime.Client
}

func NewBedrockCaller(ctx context.Context, region string) (*BedrockCaller, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockCaller{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func NewBedrockCallerWithConfig(cfg aws.Config) *BedrockCaller {
	return &BedrockCaller{client: bedrockruntime.NewFromConfig(cfg)}
}

func (c *BedrockCaller) Do(ctx context.Context, req *adapter.UpstreamRequest) ([]byte, error) {
	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.BedrockModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        req.Body,
	})
	if err != nil {
		return nil, &domain.UpstreamError{Provider: "bedrock", Status: 502, Body: err.Error()}
	}
	return output.Body, nil
}

func (c *BedrockCaller) Stream(ctx context.Context, req *adapter.UpstreamRequest) (EventStream, error) {
	output, err := c.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(req.BedrockModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        req.Body,
	})
	if err != nil {
		return nil, &domain.UpstreamError{Provider: "bedrock", Status: 502, Body: err.Error()}
	}
	return &bedrockStream{stream: output.GetStream()}, nil
}

type bedrockStream struct {
	stream *bedrockruntime.InvokeModelWithResponseStreamEventStream
}

func (s *bedrockStream) Next() ([]byte, error) {
	for event := range s.stream.Events() {
		if chunk, ok := event.(*types.ResponseStreamMemberChunk); ok {
			return chunk.Value.Bytes, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *bedrockStream) Close() error {
	return s.stream.Close()
}
