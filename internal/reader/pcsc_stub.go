//go:build !pcsc

package reader

import (
	"context"
	"fmt"
	"time"
)

// PCSC is the stand-in adapter compiled without the pcsc build tag, so the
// rest of the module builds and tests without the PC/SC headers installed.
// Connecting reports ErrUnavailable, which sends the facade down the offline
// path.
type PCSC struct{}

var _ Reader = (*PCSC)(nil)

// NewPCSC returns the stub adapter.
func NewPCSC() *PCSC {
	return &PCSC{}
}

func (p *PCSC) Connect(ctx context.Context) error {
	return fmt.Errorf("%w: built without PC/SC support (rebuild with -tags pcsc)", ErrUnavailable)
}

func (p *PCSC) WaitForCard(ctx context.Context, timeout time.Duration) (string, error) {
	return "", ErrUnavailable
}

func (p *PCSC) ReadBlock(ctx context.Context, cardUID string, block int) ([]byte, error) {
	return nil, ErrUnavailable
}

func (p *PCSC) WriteBlock(ctx context.Context, cardUID string, block int, data []byte) error {
	return ErrUnavailable
}

func (p *PCSC) Close() error {
	return nil
}
