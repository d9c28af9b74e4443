package server

import (
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// sonicSerializer implements echo.JSONSerializer with bytedance/sonic.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	var (
		b   []byte
		err error
	)
	if indent != "" {
		b, err = sonic.ConfigStd.MarshalIndent(i, "", indent)
	} else {
		b, err = sonic.ConfigStd.Marshal(i)
	}
	if err != nil {
		return err
	}
	_, err = c.Response().Write(b)
	return err
}

func (sonicSerializer) Deserialize(c echo.Context, i interface{}) error {
	err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err)).SetInternal(err)
	}
	return nil
}
