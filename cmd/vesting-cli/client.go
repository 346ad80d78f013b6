package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"

	"tokenvesting/rpc"
)

// apiError is a non-2xx answer from vestingd.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("rpc status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (c *cli) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var decoded struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &decoded) == nil && decoded.Code != "" {
			apiErr.Code, apiErr.Message = decoded.Code, decoded.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// submit signs payload for route with the caller's key and posts it.
func (c *cli) submit(route string, payload any, out any) error {
	key, err := c.signingKey()
	if err != nil {
		return err
	}
	signed, err := rpc.SignRequest(key, route, payload, c.now().Unix())
	if err != nil {
		return err
	}
	body, err := json.Marshal(signed)
	if err != nil {
		return err
	}
	method, path, _ := strings.Cut(route, " ")
	req, err := http.NewRequest(method, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *cli) query(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// emit prints v in the selected output format.
func (c *cli) emit(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return c.fail(err)
	}
	if c.output == "yaml" {
		var generic any
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return c.fail(err)
		}
		out, err := yaml.Marshal(plainNumbers(generic))
		if err != nil {
			return c.fail(err)
		}
		fmt.Fprint(c.stdout, string(out))
		return 0
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, pretty.String())
	return 0
}

// plainNumbers turns json.Number leaves into int64 where they fit so YAML
// renders them unquoted.
func plainNumbers(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for k, inner := range typed {
			typed[k] = plainNumbers(inner)
		}
		return typed
	case []any:
		for i, inner := range typed {
			typed[i] = plainNumbers(inner)
		}
		return typed
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n
		}
		return typed.String()
	default:
		return v
	}
}
