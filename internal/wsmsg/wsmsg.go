// Package wsmsg defines the wire-visible JSON envelopes exchanged with the
// five relay roles (spec sections 3 and 6). Every type here is a plain data
// shape; nothing in this package touches a socket.
package wsmsg

import "time"

// Envelope types carried in the "type" discriminator field.
const (
	TypeHandshake              = "handshake"
	TypeData                   = "data"
	TypeWelcome                = "welcome"
	TypePromoted               = "promoted"
	TypeObserverMode           = "observer_mode"
	TypeSenderChanged          = "sender_changed"
	TypeAck                    = "ack"
	TypeRejected               = "rejected"
	TypeEvicted                = "evicted"
	TypeServerShutdown         = "server_shutdown"
	TypeStats                  = "stats"
	TypeUserConnected          = "user_connected"
	TypeUserDisconnected       = "user_disconnected"
	TypeDataReceived           = "data_received"
	TypeError                  = "error"
	TypeGetStats               = "getStats"
	TypeListenerConnected      = "listener_connected"
	TypeSensorData             = "sensor_data"
	TypeOrientationConnected   = "orientation_listener_connected"
	TypeOrientationData        = "orientation_data"
	TypeBulkListenerConnected  = "bulk_listener_connected"
	TypeBulkDataBatch          = "bulk_data_batch"
)

// GPS is the optional GPS subfield of a SensorFrame.
type GPS struct {
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Alt      *float64 `json:"alt,omitempty"`
	Accuracy float64  `json:"accuracy"`
	Speed    *float64 `json:"speed,omitempty"`
	Heading  *float64 `json:"heading,omitempty"`
}

// Orientation is the optional orientation subfield of a SensorFrame.
type Orientation struct {
	Alpha   float64  `json:"alpha"`
	Beta    float64  `json:"beta"`
	Gamma   float64  `json:"gamma"`
	Compass *float64 `json:"compass,omitempty"`
}

// Motion is the optional motion subfield of a SensorFrame.
type Motion struct {
	AX float64 `json:"ax"`
	AY float64 `json:"ay"`
	AZ float64 `json:"az"`
}

// Weather is the optional weather subfield of a SensorFrame.
type Weather struct {
	Temp            float64  `json:"temp"`
	Humidity        float64  `json:"humidity"`
	WindSpeed       float64  `json:"windSpeed"`
	WindDirection   float64  `json:"windDirection"`
	WeatherCode     int      `json:"weatherCode"`
	Precipitation   *float64 `json:"precipitation,omitempty"`
	CloudCover      *float64 `json:"cloudCover,omitempty"`
}

// DetectedObject is one element of the optional objectsDetected subfield.
type DetectedObject struct {
	Class string    `json:"class"`
	Score float64   `json:"score"`
	BBox  []float64 `json:"bbox"`
}

// SensorFrame is a parsed, not-yet-validated inbound sender message
// (spec section 3).
type SensorFrame struct {
	Type            string            `json:"type"`
	ID              string            `json:"id,omitempty"`
	Timestamp       string            `json:"timestamp"`
	GPS             *GPS              `json:"gps,omitempty"`
	Orientation     *Orientation      `json:"orientation,omitempty"`
	Motion          *Motion           `json:"motion,omitempty"`
	Weather         *Weather          `json:"weather,omitempty"`
	ObjectsDetected []DetectedObject  `json:"objectsDetected,omitempty"`
	PhotoBase64     string            `json:"photoBase64,omitempty"`
	AudioBase64     string            `json:"audioBase64,omitempty"`
}

// HasAnySensorField reports whether the frame carries at least one sensor
// subfield, the hard-rejection invariant of spec section 4.4.
func (f *SensorFrame) HasAnySensorField() bool {
	return f.GPS != nil || f.Orientation != nil || f.Motion != nil ||
		f.Weather != nil || len(f.ObjectsDetected) > 0 ||
		f.PhotoBase64 != "" || f.AudioBase64 != ""
}

// OrientationMessage is the fast-path derivative of a SensorFrame whose
// Orientation field is present (spec section 3).
type OrientationMessage struct {
	Type        string      `json:"type"`
	Timestamp   string      `json:"timestamp"`
	UserID      string      `json:"userId"`
	Username    string      `json:"username,omitempty"`
	Orientation Orientation `json:"orientation"`
}

// BulkItem is the non-orientation derivative of a SensorFrame (spec section 3).
type BulkItem struct {
	Timestamp       string           `json:"timestamp"`
	UserID          string           `json:"userId"`
	Username        string           `json:"username,omitempty"`
	GPS             *GPS             `json:"gps,omitempty"`
	Motion          *Motion          `json:"motion,omitempty"`
	Weather         *Weather         `json:"weather,omitempty"`
	ObjectsDetected []DetectedObject `json:"objectsDetected,omitempty"`
	PhotoBase64     string           `json:"photoBase64,omitempty"`
	AudioBase64     string           `json:"audioBase64,omitempty"`
}

// BulkBatch is a flush unit emitted by the bulk batcher (spec section 4.6).
type BulkBatch struct {
	Type      string     `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	BatchSize int        `json:"batchSize"`
	Data      []BulkItem `json:"data"`
}

// UserStat is one entry of StatsSnapshot.Users.
type UserStat struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connectedAt"`
	DataCount   int64     `json:"dataCount"`
	LastData    time.Time `json:"lastData"`
	Username    string    `json:"username,omitempty"`
}

// StatsSnapshot is the periodic telemetry snapshot (spec section 3).
type StatsSnapshot struct {
	Type                 string     `json:"type"`
	Timestamp            time.Time  `json:"timestamp"`
	ActiveUsers          int        `json:"activeUsers"`
	MaxUsers             int        `json:"maxUsers"`
	OrientationListeners int        `json:"orientationListeners"`
	BulkDataListeners    int        `json:"bulkDataListeners"`
	PassiveListeners     int        `json:"passiveListeners"`
	Dashboards           int        `json:"dashboards"`
	TotalDataPoints      int64      `json:"totalDataPoints"`
	DataRatePerMinute    int64      `json:"dataRatePerMinute"`
	BulkQueueSize        int        `json:"bulkQueueSize"`
	UptimeSeconds        float64    `json:"uptimeSeconds"`
	Users                []UserStat `json:"users"`
}

// Welcome is sent to a sender on connect (spec section 4.3).
type Welcome struct {
	Type       string    `json:"type"`
	ClientID   string    `json:"clientId"`
	ServerTime time.Time `json:"serverTime"`
}

// Promoted is sent to a sender when it becomes active.
type Promoted struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ObserverMode is sent to a sender placed in the observer queue.
type ObserverMode struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Position  int       `json:"position"`
}

// SenderChanged is broadcast to other senders on an active-sender transition.
type SenderChanged struct {
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	NewActiveID string    `json:"newActiveId"`
}

// Ack acknowledges an accepted data frame.
type Ack struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Received  string    `json:"received,omitempty"`
}

// Rejected is sent when a frame or sender is refused.
type Rejected struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// Evicted is sent to a sender before a forced close for capacity.
type Evicted struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// ServerShutdown is broadcast to every connection during drain.
type ServerShutdown struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ListenerConnected is sent to a new passive listener.
type ListenerConnected struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// SensorData wraps a SensorFrame for delivery to passive listeners.
type SensorData struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	UserID    string      `json:"userId"`
	Username  string      `json:"username,omitempty"`
	Frame     SensorFrame `json:"data"`
}

// OrientationListenerConnected is sent to a new orientation listener.
type OrientationListenerConnected struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// BulkListenerConnected is sent to a new bulk listener, echoing the
// batcher's configuration per spec section 6.
type BulkListenerConnected struct {
	Type          string        `json:"type"`
	Timestamp     time.Time     `json:"timestamp"`
	BatchInterval int64         `json:"batchInterval"`
	MaxBatchSize  int           `json:"maxBatchSize"`
}

// DashboardEvent is the generic envelope for user_connected,
// user_disconnected, data_received, and error events (spec section 4.7).
type DashboardEvent struct {
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"userId,omitempty"`
	PointNumber int64    `json:"pointNumber,omitempty"`
	Message    string    `json:"message,omitempty"`
}
