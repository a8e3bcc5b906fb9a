// Package denylist blocks requests from known-abusive client addresses.
// The list lives in S3 as newline-delimited IPs and CIDR ranges and is
// reloaded on an interval so operators can edit it without a restart.
package denylist

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/craddockd/msgwall/internal/log"
	"github.com/craddockd/msgwall/internal/xerrors"
)

// GetObjectAPI is the slice of the S3 client the list needs.
type GetObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Options struct {
	Logger log.Logger

	Bucket string
	Key    string

	// Refresh is the reload interval. Zero disables background reloads.
	Refresh time.Duration

	// OnRefresh receives the entry count after each successful reload.
	OnRefresh func(size int)

	// OnError receives reload failures. The previous list stays in effect.
	OnError func(err error)

	// Client overrides the S3 client (tests). Nil uses the default AWS config.
	Client GetObjectAPI
}

// List answers whether a client IP is denied. Safe for concurrent use.
type List struct {
	client GetObjectAPI
	bucket string
	key    string
	logger log.Logger

	onRefresh func(int)
	onError   func(error)

	mu    sync.RWMutex
	addrs map[string]struct{}
	nets  []*net.IPNet
}

func New(ctx context.Context, opts Options) (*List, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("Bucket is required")
	}
	if opts.Key == "" {
		return nil, xerrors.New("Key is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	client := opts.Client
	if client == nil {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
		client = s3.NewFromConfig(awsCfg)
	}

	l := &List{
		client:    client,
		bucket:    opts.Bucket,
		key:       opts.Key,
		logger:    opts.Logger,
		onRefresh: opts.OnRefresh,
		onError:   opts.OnError,
		addrs:     map[string]struct{}{},
	}

	if err := l.Reload(ctx); err != nil {
		return nil, err
	}
	if opts.Refresh > 0 {
		go l.refreshLoop(ctx, opts.Refresh)
	}
	return l, nil
}

// Blocked reports whether ip matches an entry. Unparseable input is not
// blocked; the gate in front of us already resolved the client address.
func (l *List) Blocked(ip string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.addrs[ip]; ok {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range l.nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// Len returns the number of entries currently loaded.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.addrs) + len(l.nets)
}

// Reload fetches the list from S3 and swaps it in atomically.
func (l *List) Reload(ctx context.Context) error {
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key),
	})
	if err != nil {
		return xerrors.Wrapf(err, "get s3://%s/%s", l.bucket, l.key)
	}
	defer out.Body.Close()

	addrs, nets, err := parse(out.Body)
	if err != nil {
		return xerrors.Wrapf(err, "parse s3://%s/%s", l.bucket, l.key)
	}

	l.mu.Lock()
	l.addrs = addrs
	l.nets = nets
	size := len(addrs) + len(nets)
	l.mu.Unlock()

	l.logger.Info(ctx, "denylist loaded", "entries", size)
	if l.onRefresh != nil {
		l.onRefresh(size)
	}
	return nil
}

func (l *List) refreshLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Reload(ctx); err != nil {
				l.logger.Warn(ctx, "denylist reload failed", "error", err.Error())
				if l.onError != nil {
					l.onError(err)
				}
			}
		}
	}
}

// parse reads newline-delimited entries. Blank lines and #-comments are
// skipped. Lines with a slash are CIDR ranges, the rest are exact IPs.
func parse(r io.Reader) (map[string]struct{}, []*net.IPNet, error) {
	addrs := map[string]struct{}{}
	var nets []*net.IPNet

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		entry := strings.TrimSpace(scanner.Text())
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}
		if strings.Contains(entry, "/") {
			_, n, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, nil, xerrors.Wrapf(err, "line %d: %q", line, entry)
			}
			nets = append(nets, n)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, nil, xerrors.Newf("line %d: invalid IP %q", line, entry)
		}
		addrs[ip.String()] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, xerrors.Wrap(err, "read denylist")
	}
	return addrs, nets, nil
}
