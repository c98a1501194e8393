package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/purifier-bridge/internal/cipher"
	"github.com/nerrad567/purifier-bridge/internal/codec"
	"github.com/nerrad567/purifier-bridge/internal/profile"
)

// ProbeResult describes a device identified by Probe.
type ProbeResult struct {
	Generation profile.Generation
	Model      string
	Name       string
	Status     codec.StatusMap
}

// Probe identifies a device's generation by reading its status with each
// generation in turn: plaintext first, then the encrypted handshakes.
// Generations whose credentials are missing are skipped.
//
// Every attempt uses its own transport; WithTransport is ignored.
func Probe(ctx context.Context, host string, port int, creds cipher.Credentials, opts ...Option) (ProbeResult, error) {
	opts = append(opts, WithTransport(nil))

	var errs []error
	for _, gen := range profile.Generations {
		if err := ctx.Err(); err != nil {
			return ProbeResult{}, err
		}

		status, err := probeGeneration(ctx, Endpoint{Host: host, Port: port, Generation: gen}, creds, opts)
		if err != nil {
			if !errors.Is(err, cipher.ErrMissingCredentials) {
				errs = append(errs, fmt.Errorf("%s: %w", gen, err))
			}
			continue
		}
		return ProbeResult{
			Generation: gen,
			Model:      profile.ExtractModel(status),
			Name:       profile.ExtractName(status),
			Status:     status,
		}, nil
	}
	return ProbeResult{}, fmt.Errorf("%w: %w", ErrProbeFailed, errors.Join(errs...))
}

func probeGeneration(ctx context.Context, ep Endpoint, creds cipher.Credentials, opts []Option) (codec.StatusMap, error) {
	c, err := NewClient(ep, profile.Minimal(ep.Generation), creds, opts...)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.FetchStatus(ctx)
}
