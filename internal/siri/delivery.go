package siri

import "fmt"

// VehicleActivities drills Siri.ServiceDelivery.VehicleMonitoringDelivery[0].VehicleActivity.
// A delivery without a VehicleActivity member is an empty line, not an error.
func VehicleActivities(payload Node) ([]Node, error) {
	deliveries := payload.Path("Siri", "ServiceDelivery", "VehicleMonitoringDelivery")
	if !deliveries.Exists() {
		return nil, fmt.Errorf("%w: missing Siri.ServiceDelivery.VehicleMonitoringDelivery", ErrShape)
	}
	delivery := deliveries.Index(0)
	if !delivery.Exists() {
		return nil, fmt.Errorf("%w: empty VehicleMonitoringDelivery", ErrShape)
	}

	activities := delivery.Get("VehicleActivity")
	if !activities.Exists() {
		return nil, nil
	}
	if !activities.IsArray() {
		return nil, fmt.Errorf("%w: VehicleActivity is not an array", ErrShape)
	}
	return activities.Items(), nil
}

// Journey returns the MonitoredVehicleJourney block of an activity.
func Journey(activity Node) Node {
	return activity.Get("MonitoredVehicleJourney")
}

// PublishedLineName returns the rider-facing line label of an activity.
func PublishedLineName(activity Node) (string, bool) {
	name, ok := Journey(activity).Get("PublishedLineName").Text()
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
