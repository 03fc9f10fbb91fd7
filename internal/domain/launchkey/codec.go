package launchkey

import (
	"github.com/bytedance/sonic"

	platformerrors "launchkey-go/internal/platform/errors"
)

// Codec converts between wire JSON and entities.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// SonicCodec is the default Codec, using sonic's encoding/json compatible config.
type SonicCodec struct {
	api sonic.API
}

func NewSonicCodec() SonicCodec {
	return SonicCodec{api: sonic.ConfigStd}
}

func (c SonicCodec) Marshal(v any) ([]byte, error) {
	data, err := c.api.Marshal(v)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindParse, "marshal", "encode json", err)
	}
	return data, nil
}

func (c SonicCodec) Unmarshal(data []byte, v any) error {
	if err := c.api.Unmarshal(data, v); err != nil {
		return platformerrors.Wrap(platformerrors.KindParse, "unmarshal", "decode json", err)
	}
	return nil
}
