package main

import "sync"

// simStatus is the CLI's StatusSource and the telemetry publisher's
// data source: a snapshot of the planner's most recent cycle, updated
// under a single mutex since the planner runs on its own goroutine.
type simStatus struct {
	mu sync.Mutex

	rpm            int
	mapKpa         float64
	tps            float64
	clt            float64
	iat            float64
	vbat           float64
	advanceDeg     float64
	pulsewidthUs   float64
	lambdaMeasured float64
	syncValid      bool
}

func (s *simStatus) set(rpm int, sensors sensorReading, advance, pulsewidth, lambda float64, syncValid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rpm = rpm
	s.mapKpa = sensors.MAP
	s.tps = sensors.TPS
	s.clt = sensors.CLT
	s.iat = sensors.IAT
	s.vbat = sensors.VBat
	s.advanceDeg = advance
	s.pulsewidthUs = pulsewidth
	s.lambdaMeasured = lambda
	s.syncValid = syncValid
}

func (s *simStatus) RPM() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rpm
}

func (s *simStatus) MAP() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapKpa
}

func (s *simStatus) TPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tps
}

func (s *simStatus) CLT() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clt
}

func (s *simStatus) IAT() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iat
}

func (s *simStatus) VBat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vbat
}

func (s *simStatus) AdvanceDeg() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceDeg
}

func (s *simStatus) PulsewidthUs() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulsewidthUs
}

func (s *simStatus) LambdaMeasured() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lambdaMeasured
}

func (s *simStatus) SyncValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncValid
}
