package version

import (
	"net/http"

	"github.com/citizenwallet/aa-gateway/internal/common"
)

// Version is set at build time with -ldflags "-X github.com/citizenwallet/aa-gateway/internal/version.Version=..."
var Version = "dev"

type Service struct{}

func NewService() *Service {
	return &Service{}
}

type response struct {
	Version string `json:"version"`
}

// Current returns the current version of the API
func (s *Service) Current(w http.ResponseWriter, r *http.Request) {
	err := common.Body(w, &response{Version: Version})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}
