//go:build pcsc

package reader

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ebfe/scard"
	"go.uber.org/zap"

	"github.com/tkarlsen/mealcard/pkg/logger"
)

// APDU command prefixes understood by ACR122U-class readers.
var (
	cmdGetUID       = []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}
	cmdLoadKey      = []byte{0xFF, 0x82, 0x00, 0x00, 0x06}
	cmdAuthenticate = []byte{0xFF, 0x86, 0x00, 0x00, 0x05, 0x01, 0x00}
	cmdReadBlock    = []byte{0xFF, 0xB0, 0x00}
	cmdWriteBlock   = []byte{0xFF, 0xD6, 0x00}

	// Transport key shipped on blank Mifare Classic cards.
	defaultKeyA = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
)

const pollInterval = 500 * time.Millisecond

// PCSC drives a physical NFC reader through the PC/SC stack. It is safe for
// concurrent use; transmissions are serialised on an internal mutex because
// the reader can only talk to one card at a time anyway.
type PCSC struct {
	mu         sync.Mutex
	ctx        *scard.Context
	readerName string
	card       *scard.Card
	log        *zap.Logger
}

var _ Reader = (*PCSC)(nil)

// NewPCSC returns an unconnected PC/SC adapter.
func NewPCSC() *PCSC {
	return &PCSC{log: logger.WithModule("reader")}
}

// Connect establishes a PC/SC context and binds to the first attached reader.
func (p *PCSC) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx == nil {
		sctx, err := scard.EstablishContext()
		if err != nil {
			return fmt.Errorf("%w: establish context: %v", ErrUnavailable, err)
		}
		p.ctx = sctx
	}

	readers, err := p.ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		return fmt.Errorf("%w: no readers attached", ErrUnavailable)
	}

	p.readerName = readers[0]
	p.log.Info("reader connected", zap.String("reader", p.readerName))
	return nil
}

// WaitForCard polls reader status until a card is present, then reads its UID.
func (p *PCSC) WaitForCard(ctx context.Context, timeout time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx == nil || p.readerName == "" {
		return "", ErrUnavailable
	}

	deadline := time.Now().Add(timeout)
	states := []scard.ReaderState{{Reader: p.readerName, CurrentState: scard.StateUnaware}}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", ErrTimedOut
		}

		if err := p.ctx.GetStatusChange(states, pollInterval); err != nil && err != scard.ErrTimeout {
			return "", fmt.Errorf("%w: status change: %v", ErrUnavailable, err)
		}

		if states[0].EventState&scard.StatePresent != 0 {
			break
		}
		states[0].CurrentState = states[0].EventState
	}

	card, err := p.ctx.Connect(p.readerName, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return "", fmt.Errorf("%w: connect card: %v", ErrUnavailable, err)
	}
	p.card = card

	resp, err := p.transmit(cmdGetUID)
	if err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(resp)), nil
}

// ReadBlock authenticates against the block's sector and reads 16 bytes.
func (p *PCSC) ReadBlock(ctx context.Context, cardUID string, block int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.authenticate(block); err != nil {
		return nil, err
	}

	apdu := append(append([]byte{}, cmdReadBlock...), byte(block), BlockSize)
	return p.transmit(apdu)
}

// WriteBlock authenticates against the block's sector and writes 16 bytes.
func (p *PCSC) WriteBlock(ctx context.Context, cardUID string, block int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) != BlockSize {
		return fmt.Errorf("write block %d: expected %d bytes, got %d", block, BlockSize, len(data))
	}
	if err := p.authenticate(block); err != nil {
		return err
	}

	apdu := append(append([]byte{}, cmdWriteBlock...), byte(block), BlockSize)
	apdu = append(apdu, data...)
	_, err := p.transmit(apdu)
	return err
}

// Close disconnects from the card and releases the PC/SC context.
func (p *PCSC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.card != nil {
		_ = p.card.Disconnect(scard.LeaveCard)
		p.card = nil
	}
	if p.ctx != nil {
		if err := p.ctx.Release(); err != nil {
			return err
		}
		p.ctx = nil
	}
	return nil
}

// authenticate loads the transport key and authenticates the sector that
// contains the given block. Callers hold p.mu.
func (p *PCSC) authenticate(block int) error {
	if p.card == nil {
		return ErrUnavailable
	}

	loadKey := append(append([]byte{}, cmdLoadKey...), defaultKeyA...)
	if _, err := p.transmit(loadKey); err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	auth := append(append([]byte{}, cmdAuthenticate...), byte(block), 0x60, 0x00)
	if _, err := p.transmit(auth); err != nil {
		return fmt.Errorf("authenticate block %d: %w", block, err)
	}
	return nil
}

// transmit sends an APDU and strips the trailing status word after checking
// it for success (0x9000). Callers hold p.mu.
func (p *PCSC) transmit(apdu []byte) ([]byte, error) {
	if p.card == nil {
		return nil, ErrUnavailable
	}

	resp, err := p.card.Transmit(apdu)
	if err != nil {
		return nil, fmt.Errorf("%w: transmit: %v", ErrUnavailable, err)
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: short response", ErrUnavailable)
	}

	sw1, sw2 := resp[len(resp)-2], resp[len(resp)-1]
	if sw1 != 0x90 || sw2 != 0x00 {
		return nil, fmt.Errorf("%w: status %02X%02X", ErrUnavailable, sw1, sw2)
	}

	return resp[:len(resp)-2], nil
}
