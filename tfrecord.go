package annotool

// TFRecord object detection specific functionality. Encode only.

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
)

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// tfLabelOffset is added to class ids in TFRecord files, as label 0 is the background class in
// the TensorFlow object detection API.
const tfLabelOffset = 1

// TFRecordCodec writes tf.Example records for the TensorFlow object detection API. The images are
// read from CodecOptions.ImageDir and embedded in the records.
type TFRecordCodec struct {
	opts CodecOptions
}

// Format implements Codec.
func (c *TFRecordCodec) Format() Format { return TFRecord }

// Decode is not supported.
func (c *TFRecordCodec) Decode(string) (*Dataset, error) {
	return nil, &UnsupportedOperationError{Format: TFRecord, Op: "decode"}
}

// toTFFeatures converts a single image record to the TFRecord feature map.
func toTFFeatures(r ImageRecord, imageDir string, classes *ClassRegistry) (TFFeatureMap, error) {
	path := filepath.Join(imageDir, r.Filename)

	// Get the image width and height.
	img, format, err := decodeImageConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode the image metadata: %w", err)
	}

	// Read the image data.
	imgData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the image: %w", err)
	}

	// Prepare the feature map for the per file data.
	f := make(TFFeatureMap, 16)
	f["image/height"] = img.Height
	f["image/width"] = img.Width
	f["image/filename"] = r.Filename
	f["image/source_id"] = r.Filename
	f["image/encoded"] = imgData
	f["image/format"] = format

	// Prepare the per label data, normalized by the record size or else the image header size.
	rec := r
	if rec.Width <= 0 || rec.Height <= 0 {
		rec.Width, rec.Height = img.Width, img.Height
	}
	numLabels := len(r.Annotations)
	xmins := make([]float32, numLabels)
	ymins := make([]float32, numLabels)
	xmaxs := make([]float32, numLabels)
	ymaxs := make([]float32, numLabels)
	texts := make([]string, numLabels)
	labels := make([]int64, numLabels)
	for i, a := range r.Annotations {
		b, err := rec.box(i, NormalizedCenter)
		if err != nil {
			return nil, err
		}
		name, ok := classes.Resolve(a.ClassID)
		if !ok {
			return nil, &FormatError{Path: path, Key: fmt.Sprintf("annotation %d", i),
				Value: fmt.Sprint(a.ClassID), Reason: "class id has no name"}
		}

		xmins[i] = float32(b.X - b.Width/2)
		ymins[i] = float32(b.Y - b.Height/2)
		xmaxs[i] = float32(b.X + b.Width/2)
		ymaxs[i] = float32(b.Y + b.Height/2)
		texts[i] = name
		labels[i] = int64(a.ClassID + tfLabelOffset)
	}
	f["image/object/bbox/xmin"] = xmins
	f["image/object/bbox/ymin"] = ymins
	f["image/object/bbox/xmax"] = xmaxs
	f["image/object/bbox/ymax"] = ymaxs
	f["image/object/class/text"] = texts
	f["image/object/class/label"] = labels

	return f, nil
}

// Encode converts and serialises the annotation data to one or more TFRecord files stored under
// recordFilePath (with suffixes added when NumShards > 1). Each shard is written atomically.
//
// The label map is written to CodecOptions.LabelMapPath, or next to the records with a .pbtxt
// extension. Images that cannot be converted are skipped and reported in a *BatchError.
func (c *TFRecordCodec) Encode(data *Dataset, recordFilePath string) error {
	classes := data.Classes
	if classes.Len() == 0 {
		classes = c.opts.Classes
	}
	if classes.Len() == 0 {
		return fmt.Errorf("encoding TFRecord requires a class list")
	}
	numShards := c.opts.NumShards
	if numShards <= 0 {
		numShards = 1
	}
	labelMapPath := c.opts.LabelMapPath
	if labelMapPath == "" {
		labelMapPath = strings.TrimSuffix(recordFilePath, filepath.Ext(recordFilePath)) + ".pbtxt"
	}
	if err := os.MkdirAll(filepath.Dir(recordFilePath), 0755); err != nil {
		return fmt.Errorf("cannot create directory for %q: %w", recordFilePath, err)
	}

	shardSize := int(math.Ceil(float64(len(data.Images)) / float64(numShards)))
	var failures []ItemError
	numWritten := 0

	for shardIdx, start := 0, 0; start < len(data.Images); shardIdx, start = shardIdx+1, start+shardSize {
		end := start + shardSize
		if end > len(data.Images) {
			end = len(data.Images)
		}
		shardPath := recordFilePath
		if numShards > 1 {
			shardPath += fmt.Sprintf("-%05d-of-%05d", shardIdx, numShards)
		}

		var shardFailures []ItemError
		err := writeFileAtomic(shardPath, func(w io.Writer) error {
			var err error
			shardFailures, err = c.writeTFShard(w, data.Images[start:end], classes)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to write shard %q: %w", shardPath, err)
		}
		failures = append(failures, shardFailures...)
		numWritten++
	}
	log.Printf("Wrote %d TFRecord examples in %d shards to %s", len(data.Images)-len(failures),
		numWritten, recordFilePath)

	if err := writeTFLabelMap(labelMapPath, classes); err != nil {
		return err
	}
	return batchErr(failures)
}

// writeTFShard converts the records to examples and writes them to w, one at a time. Records that
// cannot be converted are skipped and returned as item errors.
func (c *TFRecordCodec) writeTFShard(w io.Writer, records []ImageRecord, classes *ClassRegistry) (
	failures []ItemError, err error) {

	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	for _, r := range records {
		features, err := toTFFeatures(r, c.opts.ImageDir, classes)
		if err != nil {
			failures = append(failures, ItemError{Name: r.Filename, Err: err})
			continue
		}
		if err := writeTFRecordExample(w, example.New(features)); err != nil {
			return nil, fmt.Errorf("failed to write example for %q: %w", r.Filename, err)
		}
	}
	return failures, nil
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}

// writeTFLabelMap writes the StringIntLabelMap of classes in prototxt format to path.
func writeTFLabelMap(path string, classes *ClassRegistry) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		for _, e := range classes.SortedEntries() {
			_, err := fmt.Fprintf(w, "item {\n  id: %d\n  name: %q\n}\n", e.ID+tfLabelOffset, e.Name)
			if err != nil {
				return err
			}
		}
		return nil
	})
}
