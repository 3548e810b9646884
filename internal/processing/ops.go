// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package processing

import (
	"fmt"

	"iris/internal/wire"
)

// Built-in point and geometry ops on uint8 images. All ops return fresh
// buffers; request bytes are never mutated in place.

// Identity returns the input unchanged.
func Identity(a *Array, params map[string]interface{}) (*Array, error) {
	return a, nil
}

// Invert maps every uint8 value v to 255-v.
func Invert(a *Array, params map[string]interface{}) (*Array, error) {
	if a.Dtype != wire.Uint8 {
		return nil, fmt.Errorf("invert supports uint8 only, got %s", a.Dtype)
	}
	out := a.Clone()
	for i, v := range out.Data {
		out.Data[i] = 255 - v
	}
	return out, nil
}

// Threshold binarizes a uint8 image at the "level" parameter: values
// strictly above level become 255, the rest 0.
func Threshold(a *Array, params map[string]interface{}) (*Array, error) {
	if a.Dtype != wire.Uint8 {
		return nil, fmt.Errorf("threshold supports uint8 only, got %s", a.Dtype)
	}
	level, err := floatParam(params, "level")
	if err != nil {
		return nil, err
	}
	if level < 0 || level > 255 {
		return nil, fmt.Errorf("threshold level %v is out of range [0, 255]", level)
	}
	out := a.Clone()
	for i, v := range out.Data {
		if float64(v) > level {
			out.Data[i] = 255
		} else {
			out.Data[i] = 0
		}
	}
	return out, nil
}

// FlipHorizontal mirrors a 2-dimensional uint8 image left to right.
func FlipHorizontal(a *Array, params map[string]interface{}) (*Array, error) {
	rows, cols, err := image2D(a)
	if err != nil {
		return nil, err
	}
	out := a.Clone()
	for r := 0; r < rows; r++ {
		row := out.Data[r*cols : (r+1)*cols]
		for i, j := 0, cols-1; i < j; i, j = i+1, j-1 {
			row[i], row[j] = row[j], row[i]
		}
	}
	return out, nil
}

// FlipVertical mirrors a 2-dimensional uint8 image top to bottom.
func FlipVertical(a *Array, params map[string]interface{}) (*Array, error) {
	rows, cols, err := image2D(a)
	if err != nil {
		return nil, err
	}
	out := a.Clone()
	for r, rr := 0, rows-1; r < rr; r, rr = r+1, rr-1 {
		top := out.Data[r*cols : (r+1)*cols]
		bottom := out.Data[rr*cols : (rr+1)*cols]
		for i := range top {
			top[i], bottom[i] = bottom[i], top[i]
		}
	}
	return out, nil
}

func image2D(a *Array) (rows, cols int, err error) {
	if a.Dtype != wire.Uint8 {
		return 0, 0, fmt.Errorf("flip supports uint8 only, got %s", a.Dtype)
	}
	if len(a.Shape) != 2 {
		return 0, 0, fmt.Errorf("flip requires a 2-dimensional image, got shape %v", a.Shape)
	}
	return a.Shape[0], a.Shape[1], nil
}

// floatParam extracts a numeric parameter. JSON decoding yields float64
// for all numbers.
func floatParam(params map[string]interface{}, key string) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("parameter %q is required", key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("parameter %q must be numeric, got %T", key, raw)
	}
}
