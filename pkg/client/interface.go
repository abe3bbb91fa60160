// Package client defines the transport shared by the vision-language-model
// backends.
package client

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a backend answers without any text
var ErrEmptyResponse = errors.New("client: empty response")

// VisionClient sends one prompt plus one base64 encoded image to a model
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	Ping(ctx context.Context) error
}
