package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible
// server.
type ValkeyConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ValkeyProvider implements Provider over the RESP wire protocol. Each
// operation dials a fresh connection; pattern cache traffic is light enough
// that pooling is not worth its complexity here.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// NewValkeyProvider validates connectivity with a PING before returning, so
// bad addresses or credentials fail at startup rather than mid-run.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}

	p := &ValkeyProvider{cfg: cfg}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if _, err := p.roundTrip(ctx, "PING"); err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.roundTrip(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if reply.isNil {
		return nil, ErrCacheMiss
	}
	return reply.data, nil
}

// Set stores bytes with the provided TTL. A non-positive TTL stores without
// expiry.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{"SET", key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	reply, err := p.roundTrip(ctx, args...)
	if err != nil {
		return err
	}
	if !strings.EqualFold(string(reply.data), "OK") {
		return fmt.Errorf("unexpected SET reply %q", reply.data)
	}
	return nil
}

// Del removes a key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.roundTrip(ctx, "DEL", key)
	return err
}

// Close is a no-op; connections are per-operation.
func (p *ValkeyProvider) Close() error { return nil }

type respReply struct {
	data  []byte
	isNil bool
}

// roundTrip dials, authenticates, sends one command, and reads its reply.
func (p *ValkeyProvider) roundTrip(ctx context.Context, args ...string) (respReply, error) {
	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	if err != nil {
		return respReply{}, err
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	if p.cfg.Password != "" {
		if _, err := p.exchange(conn, rw, "AUTH", p.cfg.Password); err != nil {
			return respReply{}, fmt.Errorf("valkey auth: %w", err)
		}
	}
	if p.cfg.DB > 0 {
		if _, err := p.exchange(conn, rw, "SELECT", strconv.Itoa(p.cfg.DB)); err != nil {
			return respReply{}, fmt.Errorf("valkey select: %w", err)
		}
	}
	return p.exchange(conn, rw, args...)
}

func (p *ValkeyProvider) exchange(conn net.Conn, rw *bufio.ReadWriter, args ...string) (respReply, error) {
	if err := conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
		return respReply{}, err
	}
	fmt.Fprintf(rw, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(rw, "$%d\r\n%s\r\n", len(arg), arg)
	}
	if err := rw.Flush(); err != nil {
		return respReply{}, err
	}

	if err := conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
		return respReply{}, err
	}
	return readReply(rw.Reader)
}

func readReply(r *bufio.Reader) (respReply, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	line, err := readLine(r)
	if err != nil {
		return respReply{}, err
	}

	switch prefix {
	case '+', ':':
		return respReply{data: line}, nil
	case '-':
		return respReply{}, errors.New(string(line))
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, err
		}
		if size < 0 {
			return respReply{isNil: true}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return respReply{}, err
		}
		return respReply{data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
