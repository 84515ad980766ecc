// Converts bounding box annotations between the YOLO, COCO, Pascal VOC, native JSON, KITTI and
// TFRecord formats, validating the dataset on the way.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sensorable/annotool"
	"github.com/sensorable/annotool/internal/config"
)

var (
	convertFrom annotool.Format // The source format.
	convertTo   annotool.Format // The target format.

	imageDirPath             string   // The directory with the annotated images.
	labelFileOrDirPath       string   // The input label directory or file, depending on the format.
	labelOutFileOrDirPaths   []string // The output label dir or file path(s), depending on the format.
	labelOutSplits           []int    // The cumulative split percentages for the output datasets.
	classFilePath            string   // The class list file.
	tfRecordLabelMapFilePath string   // The TFRecord label map file.
	numShardFiles            int      // The number of shard files to create.
	configFilePath           string   // The settings file.
	skipValidation           bool     // Convert without validating the dataset.

	settings *config.Config
)

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(os.Stderr, "  yolo options:\t\t-labels <dir> [-images <dir>] [-classes <file>]")
		_, _ = fmt.Fprintln(os.Stderr, "  coco options:\t\t-labels <file>")
		_, _ = fmt.Fprintln(os.Stderr, "  voc options:\t\t-labels <dir> -classes <file> [-images <dir>]")
		_, _ = fmt.Fprintln(os.Stderr, "  native options:\t-labels <file>")
		_, _ = fmt.Fprintln(os.Stderr, "  kitti options:\t-labels <dir> -classes <file> [-images <dir>]")
		_, _ = fmt.Fprintln(os.Stderr, "  tfrecord output options:\t-labels-out <file> -images <dir>"+
			" [-tfrecord-label-map-file <file>] [-num-shards n]")
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	printUsageAndExit := func(msg ...interface{}) {
		log.Print(msg...)
		flag.Usage()
		os.Exit(1)
	}

	// Format arguments.
	from := flag.String("from", "",
		"The source `format` {yolo, coco, voc, native, kitti}, detected from -labels if omitted")
	to := flag.String("to", "", "The target `format` {yolo, coco, voc, native, kitti, tfrecord}")
	direction := flag.String("direction", "",
		"The conversion `direction` <from>-to-<to>, e.g. yolo-to-coco (instead of -from and -to)")

	// Path arguments.
	flag.StringVar(&imageDirPath, "images", imageDirPath,
		"The `path` to the image directory (defaults to the label directory for yolo and kitti)")
	flag.StringVar(&labelFileOrDirPath, "labels", labelFileOrDirPath,
		"The `path` to the label input file (coco, native) or directory (yolo, voc, kitti)")
	outPaths := flag.String("labels-out", "",
		"The comma-separated paths (`path[,...]`) to the label output files (coco, native, tfrecord)"+
			" or directories (yolo, voc, kitti); must be one path per value in flag -split")
	outSplits := flag.String("split", "100",
		"The comma-separated output split percentages (`percent[,...]`) to divide the images into;"+
			" must add up to 100%")
	flag.StringVar(&classFilePath, "classes", classFilePath,
		"The class list file `path` with one \"<id> <name>\" per line")
	flag.StringVar(&tfRecordLabelMapFilePath, "tfrecord-label-map-file", tfRecordLabelMapFilePath,
		"The TFRecord label map file `path` (defaults to the output path with extension .pbtxt)")
	flag.IntVar(&numShardFiles, "num-shards", 1,
		"The number of shard files to create (tfrecord only)")
	flag.StringVar(&configFilePath, "config", configFilePath,
		"The settings file `path` (defaults to "+config.GetConfigPath()+" if it exists)")
	flag.BoolVar(&skipValidation, "skip-validation", skipValidation,
		"Convert without validating the dataset first")

	// Parse and validate flags.
	flag.Parse()

	if *direction != "" {
		if *from != "" || *to != "" {
			printUsageAndExit("Use either -direction or -from and -to")
		}
		var err error
		if convertFrom, convertTo, err = annotool.ParseDirection(*direction); err != nil {
			printUsageAndExit(err)
		}
	} else {
		convertFrom = annotool.ParseFormat(*from)
		convertTo = annotool.ParseFormat(*to)
	}

	// Detect the input format if it is not given.
	if *from == "" && *direction == "" && labelFileOrDirPath != "" {
		var err error
		if convertFrom, err = annotool.DetectFormat(labelFileOrDirPath); err != nil {
			printUsageAndExit(err, " (use -from)")
		}
		log.Print("Detected input format: ", convertFrom)
	}

	// Validate the conversion direction.
	if convertFrom == annotool.Unknown || convertFrom == annotool.TFRecord {
		printUsageAndExit("Unsupported input format")
	} else if convertTo == annotool.Unknown {
		printUsageAndExit("Unsupported output format")
	}

	// Validate input arguments.
	if labelFileOrDirPath == "" {
		printUsageAndExit("Missing label input path argument")
	}
	if (convertFrom == annotool.PascalVOC || convertFrom == annotool.KITTI) && classFilePath == "" {
		printUsageAndExit("Missing class list argument -classes")
	}
	if convertTo == annotool.TFRecord && imageDirPath == "" {
		printUsageAndExit("Missing image directory argument, required for tfrecord output")
	}

	// Validate output split arguments.
	if *outPaths == "" {
		printUsageAndExit("Missing label output path argument")
	}
	labelOutFileOrDirPaths = strings.Split(*outPaths, ",")
	splits := strings.Split(*outSplits, ",")
	if len(splits) != len(labelOutFileOrDirPaths) {
		printUsageAndExit("The number of output datasets defined by -split and the number of" +
			" paths in -labels-out must match")
	}

	// Parse splits as cumulative int percentages.
	var splitSum int
	for _, v := range splits {
		if i, err := strconv.Atoi(v); err != nil || i < 0 || i > 100 {
			printUsageAndExit("Invalid value in -split: ", v)
		} else {
			splitSum += i
			labelOutSplits = append(labelOutSplits, splitSum)
		}
	}
	if splitSum != 100 {
		printUsageAndExit("The values in -split must add up to 100%")
	}

	if numShardFiles < 1 {
		printUsageAndExit("Invalid value for -num-shards: ", numShardFiles)
	}

	// Clean path arguments.
	if imageDirPath != "" {
		imageDirPath = filepath.Clean(imageDirPath)
	}
	labelFileOrDirPath = filepath.Clean(labelFileOrDirPath)
	for i, v := range labelOutFileOrDirPaths {
		labelOutFileOrDirPaths[i] = filepath.Clean(v)
		if labelFileOrDirPath == labelOutFileOrDirPaths[i] {
			printUsageAndExit("The label input and output paths cannot be identical")
		}
	}
	if tfRecordLabelMapFilePath != "" {
		tfRecordLabelMapFilePath = filepath.Clean(tfRecordLabelMapFilePath)
	}

	var err error
	if settings, err = config.Load(configFilePath); err != nil {
		printUsageAndExit(err)
	}
}

// logErrors logs err, one line per item if it is a *annotool.BatchError, and returns the number of
// failures.
func logErrors(prefix string, err error) int {
	if err == nil {
		return 0
	}
	var batchErr *annotool.BatchError
	if !errors.As(err, &batchErr) {
		log.Print(prefix, err)
		return 1
	}
	for _, e := range batchErr.Errors {
		log.Print(prefix, e)
	}
	return len(batchErr.Errors)
}

func main() {
	opts := annotool.CodecOptions{
		ImageDir:     imageDirPath,
		Workers:      settings.Workers,
		NumShards:    numShardFiles,
		LabelMapPath: tfRecordLabelMapFilePath,
	}
	if classFilePath != "" {
		classes, err := annotool.ReadClassFile(classFilePath)
		if err != nil {
			log.Fatal("Failed to read the class list: ", err)
		}
		opts.Classes = classes
	}

	src, err := annotool.NewCodec(convertFrom, opts)
	if err != nil {
		log.Fatal(err)
	}
	dst, err := annotool.NewCodec(convertTo, opts)
	if err != nil {
		log.Fatal(err)
	}

	// Parse input. Images that fail are skipped and reported at the end.
	data, decodeErr := src.Decode(labelFileOrDirPath)
	if data == nil {
		log.Fatal("Failed to parse the input: ", decodeErr)
	}
	failures := logErrors("Skipped: ", decodeErr)
	log.Printf("Decoded %d images with %d annotations", len(data.Images), data.NumAnnotations())

	// Validate against the images, if known.
	if !skipValidation {
		var index annotool.ImageIndex
		if imageDirPath != "" {
			var indexErr error
			index, indexErr = annotool.IndexImages(context.Background(), imageDirPath, settings.Workers)
			if index == nil {
				log.Fatal("Failed to index the images: ", indexErr)
			}
			failures += logErrors("Unreadable image: ", indexErr)
		}

		findings := annotool.Validate(data, index, settings.ValidateOptions())
		for _, f := range findings {
			log.Print(f)
		}
		if annotool.GenerateReport(data, findings).HasErrors() {
			log.Fatal("Validation failed, not converting (use -skip-validation to convert anyway)")
		}
	}

	// Split data into output datasets.
	datasets := []*annotool.Dataset{data}
	if len(labelOutSplits) > 1 {
		if datasets, err = data.Split(labelOutSplits, nil); err != nil {
			log.Fatal("Failed to split the dataset: ", err)
		}
	}

	// Write output datasets.
	for i, d := range datasets {
		outPath := labelOutFileOrDirPaths[i]
		if err := dst.Encode(d, outPath); err != nil {
			failures += logErrors("Conversion failed: ", err)
			var batchErr *annotool.BatchError
			if !errors.As(err, &batchErr) {
				os.Exit(1)
			}
		}

		log.Printf("Wrote labels for %d images to %s", len(d.Images), outPath)
	}

	log.Print("Total number of annotated images: ", len(data.Images))
	if failures > 0 {
		log.Fatalf("%d images failed", failures)
	}
}
