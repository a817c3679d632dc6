package feed

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	DefaultRPCEndpoint = "grpc.biliapi.net:443"

	methodDynSpace   = "/bilibili.app.dynamic.v2.Dynamic/DynSpace"
	methodDynDetails = "/bilibili.app.dynamic.v2.Dynamic/DynDetails"
)

// rawCodec passes pre-encoded protobuf bytes through gRPC unchanged.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("rawCodec: unexpected type %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("rawCodec: unexpected type %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "proto" }

// RPCClient fetches posts from the app gRPC API.
type RPCClient struct {
	conn    *grpc.ClientConn
	ua      string
	limiter *rate.Limiter
}

type RPCOptions struct {
	Endpoint       string
	UserAgent      string
	RequestsPerSec float64
	// DialOptions override the default TLS transport (used by tests).
	DialOptions []grpc.DialOption
}

// NewRPCClient creates a lazily-connecting client. Close releases it.
func NewRPCClient(opt RPCOptions) (*RPCClient, error) {
	endpoint := strings.TrimSpace(opt.Endpoint)
	if endpoint == "" {
		endpoint = DefaultRPCEndpoint
	}
	dial := opt.DialOptions
	if len(dial) == 0 {
		dial = []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}))}
	}
	ua := opt.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	dial = append(dial, grpc.WithUserAgent(ua))
	conn, err := grpc.NewClient(endpoint, dial...)
	if err != nil {
		return nil, fmt.Errorf("rpc client %s: %w", endpoint, err)
	}
	return &RPCClient{conn: conn, ua: ua, limiter: newLimiter(opt.RequestsPerSec)}, nil
}

func (c *RPCClient) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *RPCClient) FetchPage(ctx context.Context, uid int64, cursor string) (Page, error) {
	req := encodeSpaceReq(uid, cursor)
	var resp []byte
	if err := c.invoke(ctx, methodDynSpace, req, &resp); err != nil {
		return Page{}, fmt.Errorf("fetch space %d: %w", uid, err)
	}
	page, err := decodeSpaceRsp(resp)
	if err != nil {
		return Page{}, fmt.Errorf("fetch space %d: %w", uid, err)
	}
	return page, nil
}

func (c *RPCClient) Get(ctx context.Context, id string) (Post, error) {
	var resp []byte
	if err := c.invoke(ctx, methodDynDetails, encodeDetailsReq([]string{id}), &resp); err != nil {
		return Post{}, fmt.Errorf("fetch post %s: %w", id, err)
	}
	posts, err := decodeDetailsRsp(resp)
	if err != nil {
		return Post{}, fmt.Errorf("fetch post %s: %w", id, err)
	}
	if len(posts) == 0 {
		return Post{}, fmt.Errorf("fetch post %s: %w", id, ErrNotFound)
	}
	return posts[0], nil
}

func (c *RPCClient) invoke(ctx context.Context, method string, req []byte, resp *[]byte) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	ctx = metadata.AppendToOutgoingContext(ctx, "x-bili-device-bin", "")
	err := c.conn.Invoke(ctx, method, &req, resp, grpc.ForceCodec(rawCodec{}))
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func secondsDuration(s uint64) time.Duration {
	return time.Duration(s) * time.Second
}

func parseID(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
