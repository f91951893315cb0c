//go:build !protogen

package catalog

// NewGRPCProvider is a no-op in builds without generated catalog protos
// (build with -tags protogen after running the proto codegen to enable it).
func NewGRPCProvider(_ string) (Provider, error) {
	return nil, nil
}
