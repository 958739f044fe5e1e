package slope

// A GeoTransform is an affine transform from pixel coordinates to model
// coordinates, in GDAL order:
//
//	x = gt[0] + col*gt[1] + row*gt[2]
//	y = gt[3] + col*gt[4] + row*gt[5]
//
// Pixel coordinates refer to the top left corner of the pixel.
type GeoTransform [6]float64

// GeoTransformFromTiepoint returns the GeoTransform of a ModelTiepointTag and
// ModelPixelScaleTag pair.
func GeoTransformFromTiepoint(tiepoint, scale []float64) (GeoTransform, error) {
	switch {
	case len(tiepoint) != 6:
		return GeoTransform{}, &UnsupportedRasterError{Reason: "expected exactly one tiepoint"}
	case len(scale) < 2:
		return GeoTransform{}, &UnsupportedRasterError{Reason: "invalid pixel scale"}
	}
	i, j := tiepoint[0], tiepoint[1]
	x, y := tiepoint[3], tiepoint[4]
	scaleX, scaleY := scale[0], scale[1]
	gt := GeoTransform{x - i*scaleX, scaleX, 0, y + j*scaleY, 0, -scaleY}
	return gt, gt.validate()
}

// GeoTransformFromMatrix returns the GeoTransform of a
// ModelTransformationTag.
func GeoTransformFromMatrix(matrix []float64) (GeoTransform, error) {
	if len(matrix) != 16 {
		return GeoTransform{}, &UnsupportedRasterError{Reason: "invalid model transformation"}
	}
	gt := GeoTransform{matrix[3], matrix[0], matrix[1], matrix[7], matrix[4], matrix[5]}
	return gt, gt.validate()
}

func (gt GeoTransform) validate() error {
	switch {
	case gt[2] != 0 || gt[4] != 0:
		return &UnsupportedRasterError{Reason: "rotated or sheared geotransform"}
	case gt[1] == 0 || gt[5] == 0:
		return &UnsupportedRasterError{Reason: "degenerate geotransform"}
	default:
		return nil
	}
}

// Apply returns the model coordinates of the pixel coordinates col, row.
func (gt GeoTransform) Apply(col, row float64) (float64, float64) {
	return gt[0] + col*gt[1] + row*gt[2], gt[3] + col*gt[4] + row*gt[5]
}

// Invert returns the fractional pixel coordinates of the model coordinates x,
// y. gt must not be rotated.
func (gt GeoTransform) Invert(x, y float64) (float64, float64) {
	return (x - gt[0]) / gt[1], (y - gt[3]) / gt[5]
}

// pixelIsPoint returns gt shifted so that it refers to pixel corners rather
// than pixel centers.
func (gt GeoTransform) pixelIsPoint() GeoTransform {
	gt[0] -= 0.5*gt[1] + 0.5*gt[2]
	gt[3] -= 0.5*gt[4] + 0.5*gt[5]
	return gt
}
