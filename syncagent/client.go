package syncagent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/yeremiapane/table-service/hub"
	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/services"
	"github.com/yeremiapane/table-service/utils"
)

// envelope mirrors utils.JSONResponse with a typed payload.
type envelope[T any] struct {
	Status             bool   `json:"status"`
	Message            string `json:"message"`
	Data               T      `json:"data"`
	ShouldClearSession bool   `json:"shouldClearSession"`
}

func (a *Agent) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := a.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}

	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var failure envelope[json.RawMessage]
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return statusError(resp.StatusCode, failure.Message, failure.ShouldClearSession)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError maps an HTTP failure back onto the error taxonomy.
func statusError(code int, message string, clearSession bool) error {
	if message == "" {
		message = http.StatusText(code)
	}
	switch {
	case clearSession:
		return utils.SessionInvalid("%s", message)
	case code == http.StatusNotFound:
		return utils.NotFound("%s", message)
	case code == http.StatusUnauthorized:
		return utils.Unauthorized("%s", message)
	case code == http.StatusForbidden:
		return utils.Forbidden("%s", message)
	}
	return fmt.Errorf("unexpected status %d: %s", code, message)
}

func (a *Agent) fetchRequests(ctx context.Context) ([]models.Request, error) {
	var out envelope[[]models.Request]
	var err error
	if a.cfg.ClientType == hub.ClientAdmin {
		path := fmt.Sprintf("/api/restaurants/%d/requests", a.cfg.RestaurantID)
		err = a.getJSON(ctx, path, nil, &out)
	} else {
		q := url.Values{}
		q.Set("tableId", strconv.FormatUint(uint64(a.cfg.TableID), 10))
		q.Set("sessionId", a.SessionID())
		err = a.getJSON(ctx, "/api/requests", q, &out)
	}
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (a *Agent) verify(ctx context.Context) (services.VerifyResult, error) {
	var out envelope[services.VerifyResult]
	path := fmt.Sprintf("/api/restaurants/%d/tables/%d/verify", a.cfg.RestaurantID, a.cfg.TableID)
	if err := a.getJSON(ctx, path, nil, &out); err != nil {
		return services.VerifyResult{}, err
	}
	return out.Data, nil
}
