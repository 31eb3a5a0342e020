package rekognition

import "errors"

var (
	// ErrInvalidCredentials indicates that AWS credentials are invalid or missing
	ErrInvalidCredentials = errors.New("invalid or missing AWS credentials")

	// ErrNoFaceDetected indicates that no face was found in the provided image
	ErrNoFaceDetected = errors.New("no face detected in image")

	// ErrInvalidImage indicates the image is empty, too small, too large or not decodable
	ErrInvalidImage = errors.New("invalid image for rekognition")

	// ErrThrottled indicates the request was rejected by AWS rate limiting
	ErrThrottled = errors.New("rekognition request throttled")

	// ErrNoReference indicates a matcher was built without a reference image
	ErrNoReference = errors.New("no reference image bound to matcher")
)
