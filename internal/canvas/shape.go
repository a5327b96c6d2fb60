package canvas

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind 圖形類型標籤，建立後不可改變
type Kind string

const (
	KindRectangle Kind = "rectangle"
	KindCircle    Kind = "circle"
	KindTriangle  Kind = "triangle"
	KindArrow     Kind = "arrow"
	KindLine      Kind = "line"
	KindText      Kind = "text"
)

// Base 所有圖形共用的屬性
type Base struct {
	ID          string  `json:"id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Fill        string  `json:"fill"`
	Stroke      string  `json:"stroke"`
	StrokeWidth float64 `json:"strokeWidth"`
	Opacity     float64 `json:"opacity"`
	Rotation    float64 `json:"rotation"`
	ScaleX      float64 `json:"scaleX"`
	ScaleY      float64 `json:"scaleY"`
	Visible     bool    `json:"visible"`
	Draggable   bool    `json:"draggable"`
	Timestamp   int64   `json:"timestamp"`
	UserID      string  `json:"userId,omitempty"`
}

// Geometry 各類型專屬的幾何屬性
//
// 封閉介面：只有本套件內的類型可以實作。
type Geometry interface {
	Kind() Kind
	validate() error
}

// Rectangle 矩形
type Rectangle struct {
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	CornerRadius float64 `json:"cornerRadius"`
}

// Circle 圓形
type Circle struct {
	Radius float64 `json:"radius"`
}

// Triangle 三角形，6 個數字組成 3 個頂點
type Triangle struct {
	Points []float64 `json:"points"`
}

// Arrow 箭頭，4 個數字組成兩個端點
type Arrow struct {
	Points        []float64 `json:"points"`
	PointerLength float64   `json:"pointerLength"`
	PointerWidth  float64   `json:"pointerWidth"`
}

// Line 直線，4 個數字組成兩個端點
type Line struct {
	Points []float64 `json:"points"`
}

// Text 文字
type Text struct {
	Text           string   `json:"text"`
	FontSize       float64  `json:"fontSize"`
	FontFamily     string   `json:"fontFamily"`
	FontStyle      string   `json:"fontStyle"`
	TextDecoration string   `json:"textDecoration"`
	Align          string   `json:"align"`
	VerticalAlign  string   `json:"verticalAlign"`
	Width          *float64 `json:"width,omitempty"`
	Height         *float64 `json:"height,omitempty"`
}

func (*Rectangle) Kind() Kind { return KindRectangle }
func (*Circle) Kind() Kind    { return KindCircle }
func (*Triangle) Kind() Kind  { return KindTriangle }
func (*Arrow) Kind() Kind     { return KindArrow }
func (*Line) Kind() Kind      { return KindLine }
func (*Text) Kind() Kind      { return KindText }

func (*Rectangle) validate() error { return nil }
func (*Circle) validate() error    { return nil }
func (*Text) validate() error      { return nil }

func (g *Triangle) validate() error { return checkPoints(KindTriangle, g.Points, 6) }
func (g *Arrow) validate() error    { return checkPoints(KindArrow, g.Points, 4) }
func (g *Line) validate() error     { return checkPoints(KindLine, g.Points, 4) }

func checkPoints(kind Kind, points []float64, want int) error {
	if len(points) != want {
		return fmt.Errorf("%s needs %d points, got %d", kind, want, len(points))
	}
	return nil
}

// newGeometry 依類型標籤建立空的幾何屬性
func newGeometry(kind Kind) (Geometry, error) {
	switch kind {
	case KindRectangle:
		return &Rectangle{}, nil
	case KindCircle:
		return &Circle{}, nil
	case KindTriangle:
		return &Triangle{}, nil
	case KindArrow:
		return &Arrow{}, nil
	case KindLine:
		return &Line{}, nil
	case KindText:
		return &Text{}, nil
	default:
		return nil, fmt.Errorf("unknown shape type %q", kind)
	}
}

// Shape 畫布上的一個圖形
//
// JSON 是扁平的：共用屬性、type 與幾何屬性位於同一層。
type Shape struct {
	Base
	Geometry Geometry
}

// Kind 圖形類型
func (s Shape) Kind() Kind {
	if s.Geometry == nil {
		return ""
	}
	return s.Geometry.Kind()
}

// Validate 檢查 id 與幾何屬性
func (s Shape) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("shape id is required")
	}
	if s.Geometry == nil {
		return fmt.Errorf("shape %s has no geometry", s.ID)
	}
	if err := s.Geometry.validate(); err != nil {
		return fmt.Errorf("shape %s: %w", s.ID, err)
	}
	return nil
}

// MarshalJSON 輸出扁平的 JSON 物件
func (s Shape) MarshalJSON() ([]byte, error) {
	if s.Geometry == nil {
		return nil, fmt.Errorf("shape %s has no geometry", s.ID)
	}

	head, err := json.Marshal(struct {
		Type Kind `json:"type"`
		Base
	}{s.Geometry.Kind(), s.Base})
	if err != nil {
		return nil, err
	}

	geo, err := json.Marshal(s.Geometry)
	if err != nil {
		return nil, err
	}

	// 合併兩個物件：{head...} + {geo...}
	if bytes.Equal(geo, []byte("{}")) {
		return head, nil
	}
	out := make([]byte, 0, len(head)+len(geo))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, geo[1:]...)
	return out, nil
}

// UnmarshalJSON 依 type 欄位解析成對應的幾何類型
//
// 未知的額外欄位會被忽略。
func (s *Shape) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}

	geo, err := newGeometry(tag.Type)
	if err != nil {
		return err
	}

	var base Base
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	if err := json.Unmarshal(data, geo); err != nil {
		return err
	}

	s.Base = base
	s.Geometry = geo
	return nil
}

// Clone 深拷貝，房間狀態與廣播內容不共用切片
func (s Shape) Clone() Shape {
	cp := s
	switch g := s.Geometry.(type) {
	case *Rectangle:
		v := *g
		cp.Geometry = &v
	case *Circle:
		v := *g
		cp.Geometry = &v
	case *Triangle:
		cp.Geometry = &Triangle{Points: append([]float64(nil), g.Points...)}
	case *Arrow:
		v := *g
		v.Points = append([]float64(nil), g.Points...)
		cp.Geometry = &v
	case *Line:
		cp.Geometry = &Line{Points: append([]float64(nil), g.Points...)}
	case *Text:
		v := *g
		if g.Width != nil {
			w := *g.Width
			v.Width = &w
		}
		if g.Height != nil {
			h := *g.Height
			v.Height = &h
		}
		cp.Geometry = &v
	}
	return cp
}

// NewShapeID 生成新的圖形 ID
func NewShapeID() string {
	return uuid.NewString()
}
