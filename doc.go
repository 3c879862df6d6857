// Package stompy controls the stompy hexapod walker.
//
// Each leg has its own microcontroller on a USB serial port. The host talks
// to them over a framed command protocol, streams motion plans, reads back
// telemetry and coordinates the legs with a restriction gait: a foot is lifted
// when it nears the edge of its reachable area, as long as its neighbours are
// on the ground.
//
// # Installation
//
//	go install github.com/gwillem/stompy/cmd/stompy@latest
//
// # Usage
//
// First, find the legs and write stompy.yaml:
//
//	stompy setup
//
// Inspect what each leg has stored:
//
//	stompy info
//
// Then walk, or walk six simulated legs without hardware:
//
//	stompy walk
//	stompy walk --simulate
//
// # Packages
//
//   - cmd/stompy: CLI with setup, info and walk commands
//   - pkg/comando: framed command protocol
//   - pkg/plan: motion plans and their wire encoding
//   - pkg/robot: leg numbering, geometry and kinematics
//   - pkg/leg: serial leg client and leg simulator
//   - pkg/gait: feet and the restriction gait body
//   - pkg/walk: walk controller running the legs and the gait
//   - pkg/config: stompy.yaml
//   - pkg/record: sqlite session recording
//   - pkg/telemetry: websocket and MQTT state feeds
//   - pkg/clock: real and mock clocks
package stompy
