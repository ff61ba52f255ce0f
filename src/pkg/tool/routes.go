package tool

import (
	"errors"
	"fmt"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const PathPrefix = "/v1/tools"

func (t *Tool) Register(mux *runtime.ServeMux) error {
	return errors.Join(
		mux.HandlePath("POST", fmt.Sprintf("%s/%s", PathPrefix, Name), t.Post),
		mux.HandlePath("GET", PathPrefix, t.List),
	)
}
