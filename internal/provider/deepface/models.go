package deepface

// RepresentRequest for POST /represent
type RepresentRequest struct {
	Img      string `json:"img"`
	Model    string `json:"model_name"`
	Detector string `json:"detector_backend"`
}

// RepresentResponse lists the faces found, one result per face.
type RepresentResponse struct {
	Results []RepresentResult `json:"results"`
}

type RepresentResult struct {
	FacialArea     FacialArea `json:"facial_area"`
	FaceConfidence float64    `json:"face_confidence"`
}

type FacialArea struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// VerifyRequest for POST /verify. Both images are data URIs.
type VerifyRequest struct {
	Img1     string `json:"img1"`
	Img2     string `json:"img2"`
	Model    string `json:"model_name"`
	Detector string `json:"detector_backend"`
	Metric   string `json:"distance_metric"`
}

// VerifyResponse is the verdict of one 1:1 comparison. Distance is smaller
// for more similar faces; Threshold is the model's own cut-off.
type VerifyResponse struct {
	Verified  bool    `json:"verified"`
	Distance  float64 `json:"distance"`
	Threshold float64 `json:"threshold"`
	Model     string  `json:"model"`
}
