package feed

import "io"

// Options selects and configures an adapter.
type Options struct {
	UseRPC         bool
	UserAgent      string
	RPCEndpoint    string
	RequestsPerSec float64
}

// New returns the adapter selected by opt. The returned closer releases
// connections held by the adapter and is never nil.
func New(opt Options) (Adapter, io.Closer, error) {
	if opt.UseRPC {
		c, err := NewRPCClient(RPCOptions{
			Endpoint:       opt.RPCEndpoint,
			UserAgent:      opt.UserAgent,
			RequestsPerSec: opt.RequestsPerSec,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	}
	c := NewRESTClient(RESTOptions{UserAgent: opt.UserAgent, RequestsPerSec: opt.RequestsPerSec})
	return c, nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
