package usecase

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"imgsearch/internal/domain"
)

const DefaultMapPoints = 100

// Project maps up to maxPoints records, in index order, onto their first
// dims principal components and scales each axis to [0,1]. Axes without
// variance map to 0.
func Project(records []domain.EmbeddingRecord, dims, maxPoints int) ([]domain.MapPoint, error) {
	if dims != 2 && dims != 3 {
		return nil, fmt.Errorf("map dimensions must be 2 or 3, got %d", dims)
	}
	if maxPoints <= 0 {
		maxPoints = DefaultMapPoints
	}
	n := min(len(records), maxPoints)
	if n == 0 {
		return nil, nil
	}
	records = records[:n]
	d := len(records[0].Vector)

	data := mat.NewDense(n, d, nil)
	for i, r := range records {
		if len(r.Vector) != d {
			return nil, fmt.Errorf("record %s has dimension %d, want %d", r.Path, len(r.Vector), d)
		}
		for j, v := range r.Vector {
			data.Set(i, j, float64(v))
		}
	}

	points := make([]domain.MapPoint, n)
	for i, r := range records {
		points[i] = domain.MapPoint{Path: r.Path, Coords: make([]float64, dims)}
	}
	if n < 2 {
		return points, nil
	}

	var pc stat.PC
	if !pc.PrincipalComponents(data, nil) {
		return nil, errors.New("principal component analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	// fewer samples than dims leaves the remaining axes at 0
	_, k := vecs.Dims()
	k = min(k, dims)

	var proj mat.Dense
	proj.Mul(data, vecs.Slice(0, d, 0, k))
	for i := range points {
		for c := 0; c < k; c++ {
			points[i].Coords[c] = proj.At(i, c)
		}
	}

	scaleAxes(points, dims)
	return points, nil
}

// scaleAxes min-max normalises every axis to [0,1]. A flat axis maps to 0.
func scaleAxes(points []domain.MapPoint, dims int) {
	for c := 0; c < dims; c++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, p := range points {
			lo = math.Min(lo, p.Coords[c])
			hi = math.Max(hi, p.Coords[c])
		}
		span := hi - lo
		for _, p := range points {
			if span < 1e-12 {
				p.Coords[c] = 0
				continue
			}
			p.Coords[c] = (p.Coords[c] - lo) / span
		}
	}
}
