package types

// Detection is a face bounding box relative to the frame size.
// X, Y, Width and Height are fractions in [0,1] of the frame width/height.
type Detection struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
	Score  float64 `json:"score"`
}

// Point3D is a normalized face mesh landmark.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// MeshPoints is the number of landmarks in a full face mesh.
const MeshPoints = 468

// FaceMesh holds the landmarks of a single face as returned by the sidecar.
type FaceMesh struct {
	Points []Point3D `json:"points"`
}

// ErrorResult captures the error object returned by the sidecar on failure
type ErrorResult struct {
	Error string `json:"error"`
}
