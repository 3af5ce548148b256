package main

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/hapticore/internal/config"
	"github.com/Faultbox/hapticore/internal/device"
	"github.com/Faultbox/hapticore/pkg/mesh"
)

// buildScene generates the configured scene mesh.
func buildScene(sc config.SceneConfig) (*mesh.Mesh, error) {
	center := mgl64.Vec3(sc.Center)
	var (
		m   *mesh.Mesh
		err error
	)
	switch sc.Shape {
	case "cube":
		return mesh.Cube(center, sc.Size), nil
	case "sphere":
		m, err = mesh.Sphere(sc.Size/2, sc.Cells)
	case "box":
		m, err = mesh.RoundedBox(mgl64.Vec3{sc.Size, sc.Size, sc.Size / 2}, sc.Size/10, sc.Cells)
	default:
		return nil, fmt.Errorf("unknown scene shape %q", sc.Shape)
	}
	if err != nil {
		return nil, err
	}
	m.Translate(center)
	return m, nil
}

// demoTrajectory circles above the scene and dips into its top surface.
func demoTrajectory(sc config.SceneConfig) device.Trajectory {
	top := mgl64.Vec3(sc.Center).Add(mgl64.Vec3{0, 0, sc.Size/2 + sc.Size/10})
	return device.Orbit(top, sc.Size/4, sc.Size/4, 4*time.Second)
}
