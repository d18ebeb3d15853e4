package main

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/openefi/core/internal/canclient"
)

// runCANSim feeds synthetic AEM X-series wideband-lambda frames into
// the CAN client at roughly the rate a real wideband controller
// broadcasts, so the client's decode path is exercised the same way it
// would be against a real bus.
func runCANSim(ctx context.Context, can *canclient.Client, status *simStatus) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		target := 1.0
		if status.MAP() > 80 {
			target = 0.88
		}
		afrRaw := uint16(target * 14.7)

		var data [8]byte
		binary.BigEndian.PutUint16(data[0:2], afrRaw)
		data[2] = 1 // status valid bit

		can.OnFrame(canclient.Frame{ID: 0x180, DLC: 8, Data: data, TimeUs: float64(time.Now().UnixMicro())})
	}
}
