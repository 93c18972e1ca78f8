package emotion

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/andresmejia3/anonymizer/internal/types"
)

func flatMesh(offsetX, offsetY, offsetZ float64) *types.FaceMesh {
	pts := make([]types.Point3D, types.MeshPoints)
	for i := range pts {
		pts[i] = types.Point3D{
			X: offsetX + float64(i%20)*0.01,
			Y: offsetY + float64(i/20)*0.01,
			Z: offsetZ + float64(i%7)*0.001,
		}
	}
	return &types.FaceMesh{Points: pts}
}

type fakeLandmarker struct {
	mesh *types.FaceMesh
	err  error
}

func (f *fakeLandmarker) Landmarks(img *image.RGBA) (*types.FaceMesh, error) { return f.mesh, f.err }

type fakeClassifier struct {
	class int
	err   error
	got   []float64
	calls int
}

func (f *fakeClassifier) Classify(features []float64) (int, error) {
	f.calls++
	f.got = features
	return f.class, f.err
}

func TestFeatures(t *testing.T) {
	feats, err := Features(flatMesh(0.3, 0.4, -0.05))
	if err != nil {
		t.Fatalf("Features failed: %v", err)
	}
	if len(feats) != FeatureSize || FeatureSize != 1404 {
		t.Fatalf("expected 1404 features, got %d", len(feats))
	}

	// Point 0 sits at the minimum of every axis.
	for i := 0; i < 3; i++ {
		if math.Abs(feats[i]) > 1e-12 {
			t.Errorf("feature %d = %v, want 0", i, feats[i])
		}
	}
	// Point 21 is (1, 1, 0) steps away from point 0.
	if math.Abs(feats[21*3]-0.01) > 1e-9 || math.Abs(feats[21*3+1]-0.01) > 1e-9 {
		t.Errorf("unexpected interleaving: %v", feats[21*3:21*3+3])
	}
	for i, f := range feats {
		if f < 0 {
			t.Fatalf("feature %d is negative: %v", i, f)
		}
	}
}

func TestFeatures_TranslationInvariant(t *testing.T) {
	a, err := Features(flatMesh(0, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Features(flatMesh(0.25, 0.5, 0.1))
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			t.Fatalf("feature %d differs after translation: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestFeatures_WrongSize(t *testing.T) {
	tests := []struct {
		name string
		mesh *types.FaceMesh
	}{
		{"nil", nil},
		{"empty", &types.FaceMesh{}},
		{"partial", &types.FaceMesh{Points: make([]types.Point3D, 10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Features(tt.mesh); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		idx     int
		want    string
		wantErr bool
	}{
		{0, "HAPPY", false},
		{1, "NEUTRAL", false},
		{2, "SAD", false},
		{3, "", true},
		{-1, "", true},
	}
	for _, tt := range tests {
		got, err := Label(tt.idx)
		if (err != nil) != tt.wantErr {
			t.Errorf("Label(%d) error = %v, wantErr %v", tt.idx, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("Label(%d) = %q, want %q", tt.idx, got, tt.want)
		}
	}
}

func TestRecognize(t *testing.T) {
	cls := &fakeClassifier{class: 2}
	r := NewRecognizer(&fakeLandmarker{mesh: flatMesh(0.1, 0.1, 0)}, cls)

	res, err := r.Recognize(image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if !res.Found || res.Label != "SAD" || res.Class != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(cls.got) != FeatureSize {
		t.Errorf("classifier got %d features", len(cls.got))
	}
}

func TestRecognize_NoFace(t *testing.T) {
	cls := &fakeClassifier{}
	r := NewRecognizer(&fakeLandmarker{}, cls)

	res, err := r.Recognize(image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if err != nil || res.Found {
		t.Errorf("expected no face and no error, got %+v, %v", res, err)
	}
	if cls.calls != 0 {
		t.Error("classifier must not run without a face")
	}
}

func TestRecognize_Errors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	r := NewRecognizer(&fakeLandmarker{err: errors.New("mesh failed")}, &fakeClassifier{})
	if _, err := r.Recognize(img); err == nil {
		t.Error("expected landmark error")
	}

	r = NewRecognizer(&fakeLandmarker{mesh: flatMesh(0, 0, 0)}, &fakeClassifier{err: errors.New("model missing")})
	if _, err := r.Recognize(img); err == nil {
		t.Error("expected classifier error")
	}

	r = NewRecognizer(&fakeLandmarker{mesh: flatMesh(0, 0, 0)}, &fakeClassifier{class: 7})
	if _, err := r.Recognize(img); err == nil {
		t.Error("expected unknown class error")
	}
}

func TestAnnotate(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 160))
	r := NewRecognizer(&fakeLandmarker{mesh: flatMesh(0.2, 0.2, 0)}, &fakeClassifier{class: 0})

	res, err := r.Annotate(img)
	if err != nil || res.Label != "HAPPY" {
		t.Fatalf("Annotate() = %+v, %v", res, err)
	}

	// Text lands in the bottom-left corner only.
	var bottomLeft, topRight bool
	for y := 130; y < 160; y++ {
		for x := 0; x < 100; x++ {
			if img.RGBAAt(x, y).G > 0 {
				bottomLeft = true
			}
		}
	}
	for y := 0; y < 20; y++ {
		for x := 180; x < 200; x++ {
			if img.RGBAAt(x, y) != (color.RGBA{}) {
				topRight = true
			}
		}
	}
	if !bottomLeft {
		t.Error("expected label pixels in the bottom-left corner")
	}
	if topRight {
		t.Error("annotation leaked outside the label area")
	}
}

func TestAnnotate_NoFaceLeavesFrame(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for i := range img.Pix {
		img.Pix[i] = 99
	}
	orig := append([]byte(nil), img.Pix...)

	r := NewRecognizer(&fakeLandmarker{}, &fakeClassifier{})
	n, err := r.ProcessFrame(img)
	if err != nil || n != 0 {
		t.Fatalf("ProcessFrame() = %d, %v", n, err)
	}
	if !bytes.Equal(img.Pix, orig) {
		t.Error("frame without a face must pass through unchanged")
	}
}

type fakeMeshWorker struct {
	mesh     *types.FaceMesh
	class    int
	gotJPEG  []byte
	features []float64
	closed   bool
}

func (f *fakeMeshWorker) Mesh(jpeg []byte) (*types.FaceMesh, error) {
	f.gotJPEG = jpeg
	return f.mesh, nil
}

func (f *fakeMeshWorker) Classify(features []float64) (int, error) {
	f.features = features
	return f.class, nil
}

func (f *fakeMeshWorker) Close() error { f.closed = true; return nil }

func TestWorkerModel(t *testing.T) {
	fw := &fakeMeshWorker{mesh: flatMesh(0, 0, 0), class: 1}
	m := &WorkerModel{w: fw}

	mesh, err := m.Landmarks(image.NewRGBA(image.Rect(0, 0, 16, 16)))
	if err != nil || mesh == nil {
		t.Fatalf("Landmarks() = %v, %v", mesh, err)
	}
	if len(fw.gotJPEG) < 2 || fw.gotJPEG[0] != 0xFF || fw.gotJPEG[1] != 0xD8 {
		t.Error("expected a JPEG frame to be sent")
	}

	if _, err := m.Classify(make([]float64, 3)); err == nil {
		t.Error("expected short feature vector to be rejected")
	}
	class, err := m.Classify(make([]float64, FeatureSize))
	if err != nil || class != 1 {
		t.Errorf("Classify() = %d, %v", class, err)
	}

	if err := m.Close(); err != nil || !fw.closed {
		t.Errorf("Close() = %v, closed=%v", err, fw.closed)
	}
}
