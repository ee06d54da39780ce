package backend_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sensor-telemetry/internal/backend"
)

var _ = Describe("Models", func() {
	Describe("Reading", func() {
		It("should use the readings table", func() {
			Expect(backend.Reading{}.TableName()).To(Equal("readings"))
		})

		It("should serialize with the wire field names", func() {
			data, err := json.Marshal(backend.Reading{ID: 1, Timestamp: "t", AccX: 1, AccY: 2, AccZ: 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(MatchJSON(`{
				"id": 1, "timestamp": "t",
				"latitude": 0, "longitude": 0, "flame": 0, "smoke": 0, "distance": 0,
				"acc_x": 1, "acc_y": 2, "acc_z": 3
			}`))
		})
	})
})
