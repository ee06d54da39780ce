// Package generator produces synthetic ESP32 sensor payloads for load and
// demo traffic against the ingestion API.
package generator

import (
	"math"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Field names as they appear in the device payload.
const (
	FieldLatitude  = "latitude"
	FieldLongitude = "longitude"
	FieldFlame     = "flame"
	FieldSmoke     = "smoke"
	FieldDistance  = "distance"
	FieldAccX      = "acc_x"
	FieldAccY      = "acc_y"
	FieldAccZ      = "acc_z"
)

// Fields lists every sensor field in payload order.
var Fields = []string{
	FieldLatitude, FieldLongitude, FieldFlame, FieldSmoke,
	FieldDistance, FieldAccX, FieldAccY, FieldAccZ,
}

const (
	gravity = 9.81

	// 12-bit ADC range on the ESP32.
	adcMax = 4095

	// HC-SR04 usable range in centimetres.
	minDistance = 2
	maxDistance = 400
)

// Device is one simulated sensor board.
type Device struct {
	StartedAt time.Time
	DeviceID  string  `fake:"{uuid}"`
	Site      string  `fake:"{city}"`
	Latitude  float64 `fake:"{latitude}"`
	Longitude float64 `fake:"{longitude}"`
}

// NewDevice returns a device with a random identity and home position.
func NewDevice() *Device {
	var device Device
	if err := gofakeit.Struct(&device); err != nil {
		return nil
	}
	device.StartedAt = time.Now()
	return &device
}

// Sample is the JSON body a device POSTs. A nil sensor field is left out of
// the payload entirely, which the server stores as 0.
type Sample struct {
	Device    string   `json:"device"`
	UptimeMS  int64    `json:"uptime_ms"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Flame     *float64 `json:"flame,omitempty"`
	Smoke     *float64 `json:"smoke,omitempty"`
	Distance  *float64 `json:"distance,omitempty"`
	AccX      *float64 `json:"acc_x,omitempty"`
	AccY      *float64 `json:"acc_y,omitempty"`
	AccZ      *float64 `json:"acc_z,omitempty"`
}

// Omitted returns the names of sensor fields missing from the sample.
func (s *Sample) Omitted() []string {
	var missing []string
	for _, name := range Fields {
		if *s.field(name) == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

func (s *Sample) field(name string) **float64 {
	switch name {
	case FieldLatitude:
		return &s.Latitude
	case FieldLongitude:
		return &s.Longitude
	case FieldFlame:
		return &s.Flame
	case FieldSmoke:
		return &s.Smoke
	case FieldDistance:
		return &s.Distance
	case FieldAccX:
		return &s.AccX
	case FieldAccY:
		return &s.AccY
	default:
		return &s.AccZ
	}
}

// ReadingGenerator walks a device's sensors forward in time.
// It is not safe for concurrent use; give each device its own generator.
type ReadingGenerator struct {
	rng         *rand.Rand
	device      *Device
	latitude    float64
	longitude   float64
	distance    float64
	fireTicks   int
	partialRate float64
}

// NewReadingGenerator starts a generator at the device's home position.
// partialRate is the probability that a sample drops one or more fields.
func NewReadingGenerator(device *Device, rng *rand.Rand, partialRate float64) *ReadingGenerator {
	return &ReadingGenerator{
		rng:         rng,
		device:      device,
		latitude:    device.Latitude,
		longitude:   device.Longitude,
		distance:    50 + rng.Float64()*100,
		partialRate: math.Max(0, math.Min(1, partialRate)),
	}
}

// Next produces the sample observed at t.
func (g *ReadingGenerator) Next(t time.Time) Sample {
	// GPS jitter of a stationary receiver, roughly ±5 m.
	g.latitude += (g.rng.Float64() - 0.5) * 0.0001
	g.longitude += (g.rng.Float64() - 0.5) * 0.0001

	// Fire events are rare and last a handful of samples.
	if g.fireTicks == 0 && g.rng.Float64() < 0.01 {
		g.fireTicks = 3 + g.rng.Intn(5)
	}
	burning := g.fireTicks > 0
	if burning {
		g.fireTicks--
	}

	// The flame sensor reads high in darkness and drops towards 0 under IR.
	flame := adcMax - g.rng.Float64()*60
	smoke := 300 + (g.rng.Float64()-0.5)*40
	if burning {
		flame = 200 + g.rng.Float64()*600
		smoke = 1800 + g.rng.Float64()*1500
	}

	g.distance += (g.rng.Float64() - 0.5) * 10
	g.distance = math.Max(minDistance, math.Min(maxDistance, g.distance))

	accX := g.rng.NormFloat64() * 0.05
	accY := g.rng.NormFloat64() * 0.05
	accZ := gravity + g.rng.NormFloat64()*0.05

	sample := Sample{
		Device:    g.device.DeviceID,
		UptimeMS:  t.Sub(g.device.StartedAt).Milliseconds(),
		Latitude:  ptr(round(g.latitude, 6)),
		Longitude: ptr(round(g.longitude, 6)),
		Flame:     ptr(math.Round(flame)),
		Smoke:     ptr(math.Round(smoke)),
		Distance:  ptr(round(g.distance, 1)),
		AccX:      ptr(round(accX, 3)),
		AccY:      ptr(round(accY, 3)),
		AccZ:      ptr(round(accZ, 3)),
	}

	if g.rng.Float64() < g.partialRate {
		g.dropFields(&sample)
	}

	return sample
}

// dropFields removes between one and all sensor fields, mimicking a board
// whose peripherals failed to initialise.
func (g *ReadingGenerator) dropFields(s *Sample) {
	n := 1 + g.rng.Intn(len(Fields))
	for _, i := range g.rng.Perm(len(Fields))[:n] {
		*s.field(Fields[i]) = nil
	}
}

func ptr(v float64) *float64 {
	return &v
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
