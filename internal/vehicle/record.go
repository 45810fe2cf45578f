package vehicle

// Record is the flat, stable shape served for one vehicle.
type Record struct {
	VehicleID    string   `json:"vehicle_id"`
	Destination  string   `json:"destination"`
	Origin       string   `json:"origin"`
	Direction    string   `json:"direction"`
	Location     Location `json:"location"`
	Status       Status   `json:"status"`
	Call         Call     `json:"call"`
	RecordedTime string   `json:"recorded_time"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Bearing   float64 `json:"bearing"`
}

type Status struct {
	Monitored    bool   `json:"monitored"`
	ProgressRate string `json:"progress_rate"`
	Deviation    string `json:"deviation"`
}

// Call describes the vehicle's next stop. ArrivalTime is nil when the feed
// carries no expected arrival, which serializes as JSON null.
type Call struct {
	StopName            string  `json:"stop_name"`
	PresentableDistance string  `json:"presentable_distance"`
	DistanceFromCall    float64 `json:"distance_from_call"`
	StopsFromCall       int     `json:"stops_from_call"`
	ArrivalTime         *string `json:"arrival_time"`
}
