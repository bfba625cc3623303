// Package push contains the gateway clients that deliver a notification to
// one device token. Each implements notify.PushDispatcher.
package push

import (
	"github.com/illmade-knight/go-activity-notifier/pkg/notify"
)

const (
	defaultSound   = "default"
	defaultChannel = "default"
)

// payload returns the data map attached to a push: the record's own payload
// plus the keys a client needs to open the stored notification.
func payload(record *notify.NotificationRecord) map[string]string {
	data := make(map[string]string, len(record.Data)+2)
	for k, v := range record.Data {
		data[k] = v
	}
	data["notificationId"] = record.ID
	data["type"] = string(record.Category)
	return data
}

func deliveryError(token string, record *notify.NotificationRecord, statusCode int, gatewayBody string, cause error) *notify.DeliveryError {
	return &notify.DeliveryError{
		Token:       token,
		Title:       record.Title,
		Body:        record.Body,
		StatusCode:  statusCode,
		GatewayBody: gatewayBody,
		Cause:       cause,
	}
}
