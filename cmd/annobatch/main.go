// Batch operations over a directory of images and their annotations: resizing, validation and
// dataset reports.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sensorable/annotool"
	"github.com/sensorable/annotool/internal/config"
)

type operation int

// The batch operations.
const (
	opUnknown operation = iota
	opResize
	opValidate
	opReport
)

func operationFrom(s string) operation {
	switch s {
	case "resize":
		return opResize
	case "validate":
		return opValidate
	case "report":
		return opReport
	}
	return opUnknown
}

var (
	op operation // The selected operation.

	imageDirPath       string          // The input directory with the images.
	imageOutDirPath    string          // The output directory for resized images.
	labelFormat        annotool.Format // The format of the labels, Unknown if there are none.
	labelFileOrDirPath string          // The input label directory or file, depending on the format.
	labelOutPath       string          // The output label directory or file for resize.
	classFilePath      string          // The class list file.
	jsonOutput         bool            // Print the report as JSON.
	writeConfigPath    string          // Where to save the effective settings.

	resizeWidth  int // The target image width.
	resizeHeight int // The target image height.

	settings *config.Config
)

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(os.Stderr, "  resize options:\t-images <dir> -images-out <dir> -width w -height h"+
			" [-format f -labels <path> -labels-out <path>]")
		_, _ = fmt.Fprintln(os.Stderr, "  validate options:\t-images <dir> -format f -labels <path>"+
			" [-classes <file>] [-json]")
		_, _ = fmt.Fprintln(os.Stderr, "  report options:\t-images <dir> -format f -labels <path>"+
			" [-classes <file>] [-json]")
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	printUsageAndExit := func(msg ...interface{}) {
		log.Print(msg...)
		flag.Usage()
		os.Exit(1)
	}

	opName := flag.String("op", "", "The `operation` {resize, validate, report}")
	format := flag.String("format", "", "The label `format` {yolo, coco, voc, native, kitti}")

	// Path arguments.
	flag.StringVar(&imageDirPath, "images", imageDirPath, "The `path` to the image input directory")
	flag.StringVar(&imageOutDirPath, "images-out", imageOutDirPath,
		"The `path` to the image output directory (resize only)")
	flag.StringVar(&labelFileOrDirPath, "labels", labelFileOrDirPath,
		"The `path` to the label input file (coco, native) or directory (yolo, voc, kitti)")
	flag.StringVar(&labelOutPath, "labels-out", labelOutPath,
		"The `path` for the rescaled labels, in the input format (resize only)")
	flag.StringVar(&classFilePath, "classes", classFilePath,
		"The class list file `path` with one \"<id> <name>\" per line")
	flag.BoolVar(&jsonOutput, "json", jsonOutput, "Print the report as JSON")
	configFilePath := flag.String("config", "",
		"The settings file `path` (defaults to "+config.GetConfigPath()+" if it exists)")
	flag.StringVar(&writeConfigPath, "write-config", writeConfigPath,
		"Save the effective settings, including -keep-aspect and -image-enc, to `path`")

	// Image processing arguments.
	flag.IntVar(&resizeWidth, "width", 800, "The target image `width` in pixels")
	flag.IntVar(&resizeHeight, "height", 600, "The target image `height` in pixels")
	keepAspect := flag.Bool("keep-aspect", true,
		"Fit the images into width x height keeping their aspect ratio")
	imageEncoding := flag.String("image-enc", "",
		"The `encoding` for output images {jpg, png, webp}, defaults to the settings file")

	// Parse and validate flags.
	flag.Parse()

	if op = operationFrom(*opName); op == opUnknown {
		printUsageAndExit("Unsupported operation: ", *opName)
	}
	if *format != "" {
		if labelFormat = annotool.ParseFormat(*format); labelFormat == annotool.Unknown ||
			labelFormat == annotool.TFRecord {
			printUsageAndExit("Unsupported label format: ", *format)
		}
	}

	// Validate input arguments.
	if imageDirPath == "" {
		printUsageAndExit("Missing image input path argument")
	}
	if (labelFormat == annotool.Unknown) != (labelFileOrDirPath == "") {
		printUsageAndExit("Flags -format and -labels must be used together")
	}
	if op != opResize && labelFileOrDirPath == "" {
		printUsageAndExit("Missing label input path argument")
	}
	if (labelFormat == annotool.PascalVOC || labelFormat == annotool.KITTI) && classFilePath == "" {
		printUsageAndExit("Missing class list argument -classes")
	}

	// Resize arguments.
	if op == opResize {
		if imageOutDirPath == "" {
			printUsageAndExit("Missing image output directory path")
		}
		if resizeWidth <= 0 || resizeHeight <= 0 {
			printUsageAndExit("Invalid target size")
		}
		if labelFileOrDirPath != "" && labelOutPath == "" {
			printUsageAndExit("Missing label output path argument")
		}
	}

	// Clean path arguments.
	imageDirPath = filepath.Clean(imageDirPath)
	if imageOutDirPath != "" {
		imageOutDirPath = filepath.Clean(imageOutDirPath)
		if imageDirPath == imageOutDirPath {
			printUsageAndExit("The image input and output paths cannot be identical")
		}
	}
	if labelFileOrDirPath != "" {
		labelFileOrDirPath = filepath.Clean(labelFileOrDirPath)
	}
	if labelOutPath != "" {
		labelOutPath = filepath.Clean(labelOutPath)
		if labelOutPath == labelFileOrDirPath {
			printUsageAndExit("The label input and output paths cannot be identical")
		}
	}

	var err error
	if settings, err = config.Load(*configFilePath); err != nil {
		printUsageAndExit(err)
	}

	// Flags that are set override the settings file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "keep-aspect":
			settings.Images.KeepAspect = *keepAspect
		case "image-enc":
			settings.Images.Encoding = *imageEncoding
		}
	})
	if err := settings.Validate(); err != nil {
		printUsageAndExit(err)
	}
}

// countErrors logs err, one line per item if it is a *annotool.BatchError, and returns the number
// of failures.
func countErrors(prefix string, err error) int {
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

// loadDataset decodes the labels, or creates unannotated records for the images if there are none.
func loadDataset(ctx context.Context, codec annotool.Codec, classes *annotool.ClassRegistry) (
	*annotool.Dataset, annotool.ImageIndex, int) {

	index, err := annotool.IndexImages(ctx, imageDirPath, settings.Workers)
	if index == nil {
		log.Fatal("Failed to index the images: ", err)
	}
	failures := countErrors("Unreadable image: ", err)

	if codec == nil {
		return annotool.DatasetFromIndex(index, classes), index, failures
	}

	data, err := codec.Decode(labelFileOrDirPath)
	if data == nil {
		log.Fatal("Failed to parse the labels: ", err)
	}
	failures += countErrors("Skipped: ", err)
	return data, index, failures
}

func main() {
	ctx := context.Background()

	if writeConfigPath != "" {
		if err := settings.SaveToFile(writeConfigPath); err != nil {
			log.Fatal(err)
		}
		log.Print("Saved the settings to ", writeConfigPath)
	}

	var classes *annotool.ClassRegistry
	if classFilePath != "" {
		var err error
		if classes, err = annotool.ReadClassFile(classFilePath); err != nil {
			log.Fatal("Failed to read the class list: ", err)
		}
	}

	var codec annotool.Codec
	if labelFormat != annotool.Unknown {
		var err error
		codec, err = annotool.NewCodec(labelFormat, annotool.CodecOptions{
			Classes:  classes,
			ImageDir: imageDirPath,
			Workers:  settings.Workers,
		})
		if err != nil {
			log.Fatal(err)
		}
	}

	data, index, failures := loadDataset(ctx, codec, classes)

	switch op {
	case opResize:
		err := annotool.ResizeImages(ctx, data, imageDirPath, imageOutDirPath,
			settings.ResizeOptions(resizeWidth, resizeHeight))
		var notResized int
		if err != nil {
			var batchErr *annotool.BatchError
			if !errors.As(err, &batchErr) {
				log.Fatal("Image processing failed: ", err)
			}
			notResized = countErrors("Not resized: ", err)
		}
		failures += notResized
		log.Printf("Resized %d images to %s", len(data.Images)-notResized, imageOutDirPath)

		if codec != nil {
			if err := codec.Encode(data, labelOutPath); err != nil {
				failures += countErrors("Conversion failed: ", err)
			}
		}

	case opValidate, opReport:
		findings := annotool.Validate(data, index, settings.ValidateOptions())
		report := annotool.GenerateReport(data, findings)
		if err := printReport(report, data.Classes); err != nil {
			log.Fatal("Failed to print the report: ", err)
		}
		if report.HasErrors() {
			failures++
		}
	}

	if failures > 0 {
		os.Exit(1)
	}
}

// printReport prints the full report for the report operation and the findings only for the
// validate operation, as text or JSON.
func printReport(report annotool.Report, classes *annotool.ClassRegistry) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if op == opValidate {
			return enc.Encode(report.Findings)
		}
		return enc.Encode(report)
	}

	if op == opReport {
		return report.WriteText(os.Stdout, classes)
	}
	if len(report.Findings) == 0 {
		fmt.Println("All annotations are valid!")
		return nil
	}
	fmt.Println("Validation Issues Found:")
	for _, f := range report.Findings {
		fmt.Printf("  - %v\n", f)
	}
	return nil
}
