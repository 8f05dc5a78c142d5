// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

// Pose is the roll/pitch/yaw triple reported by the instrument, in degrees.
// Any of the angles may be NaN when the IMU has not settled.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Source is anything that can provide poses over time.
type Source interface {
	Next() (Pose, error)
}
