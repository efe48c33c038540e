package receiver

import (
	"fmt"

	"github.com/ypo/flute/pkg/transport"
)

// TSIFilter 按 (endpoint, TSI) 过滤要接收的会话
type TSIFilter struct {
	accepted map[string]struct{} // endpoint|tsi
	bypass   map[string]struct{} // endpoint 全收
}

func NewTSIFilter() *TSIFilter {
	return &TSIFilter{
		accepted: make(map[string]struct{}),
		bypass:   make(map[string]struct{}),
	}
}

func tsiKey(endpoint *transport.UDPEndpoint, tsi uint64) string {
	return fmt.Sprintf("%s#%d", endpoint.Key(), tsi)
}

func (f *TSIFilter) Add(endpoint transport.UDPEndpoint, tsi uint64) {
	f.accepted[tsiKey(&endpoint, tsi)] = struct{}{}
}

func (f *TSIFilter) Remove(endpoint *transport.UDPEndpoint, tsi uint64) {
	delete(f.accepted, tsiKey(endpoint, tsi))
}

func (f *TSIFilter) AddEndpointBypass(endpoint transport.UDPEndpoint) {
	f.bypass[endpoint.Key()] = struct{}{}
}

func (f *TSIFilter) RemoveEndpointBypass(endpoint *transport.UDPEndpoint) {
	delete(f.bypass, endpoint.Key())
}

func (f *TSIFilter) IsValid(endpoint *transport.UDPEndpoint, tsi uint64) bool {
	if _, ok := f.bypass[endpoint.Key()]; ok {
		return true
	}
	_, ok := f.accepted[tsiKey(endpoint, tsi)]
	return ok
}
