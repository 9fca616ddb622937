package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Notifier delivers an offer to a driver client. Delivery is best
// effort: callers log failures and move on, they never roll back state.
type Notifier interface {
	Notify(driverID string, offer models.OfferSummary) error
}

// PushNotifier posts offers to an external push-delivery endpoint
// (an FCM-style HTTP bridge).
type PushNotifier struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewPushNotifier(endpoint, key string) *PushNotifier {
	return &PushNotifier{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (p *PushNotifier) Notify(driverID string, offer models.OfferSummary) error {
	body := map[string]interface{}{
		"message": map[string]interface{}{
			"driver_id": driverID,
			"data":      offer,
		},
	}
	b, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint status %d", resp.StatusCode)
	}
	return nil
}

// FallbackNotifier tries the live websocket first and falls back to the
// push endpoint when the driver has no session.
type FallbackNotifier struct {
	WS   *WSRegistry
	Push Notifier
}

func (f *FallbackNotifier) Notify(driverID string, offer models.OfferSummary) error {
	if f.WS != nil {
		if err := f.WS.Notify(driverID, offer); err == nil {
			return nil
		}
	}
	if f.Push != nil {
		return f.Push.Notify(driverID, offer)
	}
	return ErrNoSession
}
