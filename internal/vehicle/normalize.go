package vehicle

import (
	"errors"
	"fmt"
	"time"

	"siri-poller/internal/siri"
)

// ErrMissingField is wrapped by every MissingFieldError.
var ErrMissingField = errors.New("vehicle: required field missing")

// MissingFieldError names the required SIRI field a vehicle activity lacked.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("vehicle: required field %s missing", e.Field)
}

func (e *MissingFieldError) Unwrap() error { return ErrMissingField }

const defaultDeviation = "0"

// arrivalLayouts are tried in order. The first accepts an optional fraction
// and a colon offset; the second a compact -0700 offset.
var arrivalLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
}

// Normalizer turns raw VehicleActivity nodes into Records.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer returns a Normalizer using the wall clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewNormalizerAt returns a Normalizer with a fixed clock.
func NewNormalizerAt(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Normalize maps one VehicleActivity entry. It fails only with a
// *MissingFieldError; every optional field falls back to its default.
func (n *Normalizer) Normalize(activity siri.Node) (Record, error) {
	mvj := siri.Journey(activity)

	vehicleID, ok := mvj.Get("VehicleRef").Text()
	if !ok {
		return Record{}, &MissingFieldError{Field: "VehicleRef"}
	}
	destination, ok := mvj.Get("DestinationName").Text()
	if !ok {
		return Record{}, &MissingFieldError{Field: "DestinationName"}
	}
	loc := mvj.Get("VehicleLocation")
	lat, ok := loc.Get("Latitude").Float()
	if !ok {
		return Record{}, &MissingFieldError{Field: "VehicleLocation.Latitude"}
	}
	lon, ok := loc.Get("Longitude").Float()
	if !ok {
		return Record{}, &MissingFieldError{Field: "VehicleLocation.Longitude"}
	}

	call := mvj.Get("MonitoredCall")
	ext := call.Get("Extensions")
	distances := ext.Get("Distances")

	return Record{
		VehicleID:   vehicleID,
		Destination: destination,
		Origin:      mvj.Get("OriginRef").TextOr(""),
		Direction:   mvj.Get("DirectionRef").TextOr(""),
		Location: Location{
			Latitude:  lat,
			Longitude: lon,
			Bearing:   mvj.Get("Bearing").FloatOr(0),
		},
		Status: Status{
			Monitored:    mvj.Get("Monitored").BoolOr(false),
			ProgressRate: mvj.Get("ProgressRate").TextOr(""),
			Deviation:    ext.Get("Deviation").TextOr(defaultDeviation),
		},
		Call: Call{
			StopName:            call.Get("StopPointName").TextOr(""),
			PresentableDistance: distances.Get("PresentableDistance").TextOr(""),
			DistanceFromCall:    distances.Get("DistanceFromCall").FloatOr(0),
			StopsFromCall:       distances.Get("StopsFromCall").IntOr(0),
			ArrivalTime:         n.arrival(call.Get("ExpectedArrivalTime")),
		},
		RecordedTime: activity.Get("RecordedAtTime").TextOr(""),
	}, nil
}

func (n *Normalizer) arrival(field siri.Node) *string {
	raw, ok := field.Text()
	if !ok || raw == "" {
		return nil
	}
	s := ArrivalEstimate(raw, n.now())
	return &s
}

// ArrivalEstimate renders raw as whole minutes from now, never negative, e.g.
// "5 min". Unparseable timestamps are returned unchanged.
func ArrivalEstimate(raw string, now time.Time) string {
	at, err := parseArrival(raw)
	if err != nil {
		return raw
	}
	mins := int(at.Sub(now.In(at.Location())) / time.Minute)
	if mins < 0 {
		mins = 0
	}
	return fmt.Sprintf("%d min", mins)
}

func parseArrival(raw string) (time.Time, error) {
	var err error
	for _, layout := range arrivalLayouts {
		var t time.Time
		if t, err = time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
