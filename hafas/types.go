package hafas

// Wire types for the provider's JSON responses. The API is a third
// party; every nested object here can be absent and must be treated
// as optional.

type stopListing struct {
	Locations []struct {
		StopLocation *stopLocation `json:"StopLocation"`
	} `json:"stopLocationOrCoordLocation"`
	ErrorCode string `json:"errorCode"`
	ErrorText string `json:"errorText"`
}

type stopLocation struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Board is a stop's departure board.
type Board struct {
	Departures []RawDeparture `json:"Departure"`
	ErrorCode  string         `json:"errorCode"`
	ErrorText  string         `json:"errorText"`
}

// RawDeparture is a single departure as sent by the provider. Date
// and Time hold the timetable; RtDate and RtTime the realtime
// estimate, when one exists.
type RawDeparture struct {
	Name             string            `json:"name"`
	Date             string            `json:"date"`
	Time             string            `json:"time"`
	RtDate           string            `json:"rtDate"`
	RtTime           string            `json:"rtTime"`
	Direction        string            `json:"direction"`
	DirectionFlag    string            `json:"directionFlag"`
	Reachable        bool              `json:"reachable"`
	JourneyStatus    string            `json:"JourneyStatus"`
	JourneyDetailRef *journeyDetailRef `json:"JourneyDetailRef"`
	ProductAtStop    *Product          `json:"ProductAtStop"`
	Products         []Product         `json:"Product"`
}

type journeyDetailRef struct {
	Ref string `json:"ref"`
}

// Product describes the line serving a departure.
type Product struct {
	Line          string        `json:"line"`
	DisplayNumber string        `json:"displayNumber"`
	InternalName  string        `json:"internalName"`
	CatCode       string        `json:"catCode"`
	CatOut        string        `json:"catOut"`
	CatIn         string        `json:"catIn"`
	OperatorInfo  *operatorInfo `json:"operatorInfo"`
	Icon          *icon         `json:"icon"`
}

type operatorInfo struct {
	Name      string `json:"name"`
	NameShort string `json:"nameS"`
}

type icon struct {
	ForegroundColor *iconColor `json:"foregroundColor"`
	BackgroundColor *iconColor `json:"backgroundColor"`
}

type iconColor struct {
	Hex string `json:"hex"`
}

// Product returns the departure's product info, preferring the
// at-stop variant, falling back to the first generic product entry.
// Returns nil when the provider sent neither.
func (d *RawDeparture) Product() *Product {
	if d.ProductAtStop != nil {
		return d.ProductAtStop
	}
	if len(d.Products) > 0 {
		return &d.Products[0]
	}
	return nil
}

// Line returns the line name the departure belongs to, or "".
func (d *RawDeparture) Line() string {
	if p := d.Product(); p != nil {
		return p.Line
	}
	return ""
}

// JourneyRef returns the journey detail reference, or "".
func (d *RawDeparture) JourneyRef() string {
	if d.JourneyDetailRef != nil {
		return d.JourneyDetailRef.Ref
	}
	return ""
}
