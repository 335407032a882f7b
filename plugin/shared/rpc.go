package shared

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// PipelinePlugin implements plugin.Plugin over netrpc. The request and
// response structs are plain gob-encodable data, so no generated stubs are
// needed on either side.
type PipelinePlugin struct {
	Impl Pipeline
}

func (p *PipelinePlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (p *PipelinePlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// RPCClient is the host-side stub that talks to the plugin process.
type RPCClient struct{ client *rpc.Client }

func (m *RPCClient) Construct(req ConstructRequest) error {
	var resp struct{}
	return m.client.Call("Plugin.Construct", req, &resp)
}

func (m *RPCClient) Generate(req GenerateRequest) (GenerateResponse, error) {
	var resp GenerateResponse
	err := m.client.Call("Plugin.Generate", req, &resp)
	return resp, err
}

func (m *RPCClient) SetScheduler(name string) error {
	var resp struct{}
	return m.client.Call("Plugin.SetScheduler", name, &resp)
}

func (m *RPCClient) Release() error {
	var resp struct{}
	return m.client.Call("Plugin.Release", struct{}{}, &resp)
}

// RPCServer wraps the real implementation on the plugin side, conforming to
// the requirements of net/rpc.
type RPCServer struct {
	Impl Pipeline
}

func (m *RPCServer) Construct(req ConstructRequest, _ *struct{}) error {
	return m.Impl.Construct(req)
}

func (m *RPCServer) Generate(req GenerateRequest, resp *GenerateResponse) error {
	v, err := m.Impl.Generate(req)
	*resp = v
	return err
}

func (m *RPCServer) SetScheduler(name string, _ *struct{}) error {
	return m.Impl.SetScheduler(name)
}

func (m *RPCServer) Release(_ struct{}, _ *struct{}) error {
	return m.Impl.Release()
}
