// Package emotion labels the expression of the most prominent face in a frame.
//
// A face mesh is turned into a position independent feature vector and handed
// to a pre-trained classifier that picks one of Labels.
package emotion

import (
	"fmt"
	"image"
	"math"

	"github.com/andresmejia3/anonymizer/internal/types"
	"github.com/fogleman/gg"
)

// Labels are the classifier outputs, indexed by class.
var Labels = []string{"HAPPY", "NEUTRAL", "SAD"}

// FeatureSize is the length of a feature vector: x, y, z per landmark.
const FeatureSize = types.MeshPoints * 3

// Label maps a class index to its name.
func Label(idx int) (string, error) {
	if idx < 0 || idx >= len(Labels) {
		return "", fmt.Errorf("classifier returned unknown class %d", idx)
	}
	return Labels[idx], nil
}

// Landmarker finds the face mesh of a single face. It returns nil when the
// frame has no face.
type Landmarker interface {
	Landmarks(img *image.RGBA) (*types.FaceMesh, error)
}

// Classifier predicts a class index from a feature vector.
type Classifier interface {
	Classify(features []float64) (int, error)
}

// Features flattens a mesh into x0,y0,z0,x1,... with each axis shifted by its
// minimum over the face so the vector does not depend on where the face is.
func Features(mesh *types.FaceMesh) ([]float64, error) {
	if mesh == nil || len(mesh.Points) != types.MeshPoints {
		n := 0
		if mesh != nil {
			n = len(mesh.Points)
		}
		return nil, fmt.Errorf("face mesh has %d landmarks, expected %d", n, types.MeshPoints)
	}

	minX, minY, minZ := math.Inf(1), math.Inf(1), math.Inf(1)
	for _, p := range mesh.Points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		minZ = math.Min(minZ, p.Z)
	}

	out := make([]float64, 0, FeatureSize)
	for _, p := range mesh.Points {
		out = append(out, p.X-minX, p.Y-minY, p.Z-minZ)
	}
	return out, nil
}

// Result is the outcome for one frame.
type Result struct {
	// Found is false when no face was in the frame; the other fields are empty then.
	Found bool
	Class int
	Label string
	Mesh  *types.FaceMesh
}

// Recognizer chains landmark extraction and classification.
type Recognizer struct {
	Landmarker Landmarker
	Classifier Classifier
	// DrawMesh plots the landmarks on annotated frames.
	DrawMesh bool
}

// NewRecognizer pairs a landmarker with a classifier.
func NewRecognizer(l Landmarker, c Classifier) *Recognizer {
	return &Recognizer{Landmarker: l, Classifier: c}
}

// Recognize labels img without modifying it.
func (r *Recognizer) Recognize(img *image.RGBA) (Result, error) {
	mesh, err := r.Landmarker.Landmarks(img)
	if err != nil {
		return Result{}, fmt.Errorf("landmark extraction failed: %w", err)
	}
	if mesh == nil {
		return Result{}, nil
	}

	features, err := Features(mesh)
	if err != nil {
		return Result{}, err
	}
	class, err := r.Classifier.Classify(features)
	if err != nil {
		return Result{}, fmt.Errorf("classification failed: %w", err)
	}
	label, err := Label(class)
	if err != nil {
		return Result{}, err
	}
	return Result{Found: true, Class: class, Label: label, Mesh: mesh}, nil
}

// Annotate labels img and writes the label at its bottom-left corner.
// Frames without a face are left untouched.
func (r *Recognizer) Annotate(img *image.RGBA) (Result, error) {
	res, err := r.Recognize(img)
	if err != nil || !res.Found {
		return res, err
	}

	dc := gg.NewContextForRGBA(img)
	b := img.Bounds()
	if r.DrawMesh {
		dc.SetRGB(0, 1, 0)
		for _, p := range res.Mesh.Points {
			dc.DrawPoint(float64(b.Min.X)+p.X*float64(b.Dx()), float64(b.Min.Y)+p.Y*float64(b.Dy()), 1)
		}
		dc.Fill()
	}

	// The built-in face is 13px high; scale it with the frame.
	scale := math.Max(1, float64(b.Dy())/160)
	dc.Push()
	dc.Translate(float64(b.Min.X)+10, float64(b.Max.Y)-1)
	dc.Scale(scale, scale)
	dc.SetRGB(0, 1, 0)
	dc.DrawString(res.Label, 0, 0)
	dc.Pop()
	return res, nil
}

// ProcessFrame annotates img and reports 1 when a face was labelled.
// It matches the live pipeline's frame callback.
func (r *Recognizer) ProcessFrame(img *image.RGBA) (int, error) {
	res, err := r.Annotate(img)
	if err != nil || !res.Found {
		return 0, err
	}
	return 1, nil
}
