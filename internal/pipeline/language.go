package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/pemistahl/lingua-go"
)

// LanguageDetector 尽力识别文本的主要语言，返回小写的 ISO 639-1 代码。
// 失败时返回默认代码和一个包装了 ErrDetection 的错误。
type LanguageDetector interface {
	Detect(text string) (string, error)
}

type linguaDetector struct {
	once        sync.Once
	detector    lingua.LanguageDetector
	defaultCode string
	sampleRunes int
}

// NewLanguageDetector 创建基于 lingua 的检测器。模型在首次使用时加载。
func NewLanguageDetector(defaultCode string, sampleRunes int) LanguageDetector {
	if defaultCode == "" {
		defaultCode = "en"
	}
	if sampleRunes <= 0 {
		sampleRunes = 10000
	}
	return &linguaDetector{defaultCode: strings.ToLower(defaultCode), sampleRunes: sampleRunes}
}

func (d *linguaDetector) Detect(text string) (code string, err error) {
	sample := sampleText(text, d.sampleRunes)
	if !hasLetters(sample) {
		return d.defaultCode, fmt.Errorf("%w: no letters in text", ErrDetection)
	}

	defer func() {
		if r := recover(); r != nil {
			code, err = d.defaultCode, fmt.Errorf("%w: detector panic: %v", ErrDetection, r)
		}
	}()

	d.once.Do(func() {
		d.detector = lingua.NewLanguageDetectorBuilder().FromAllLanguages().Build()
	})

	lang, ok := d.detector.DetectLanguageOf(sample)
	if !ok {
		return d.defaultCode, fmt.Errorf("%w: language is ambiguous", ErrDetection)
	}
	iso := strings.ToLower(lang.IsoCode639_1().String())
	if iso == "" {
		return d.defaultCode, fmt.Errorf("%w: no ISO 639-1 code for %s", ErrDetection, lang)
	}
	return iso, nil
}

// sampleText 截取前 n 个 rune 并替换非法 UTF-8。
func sampleText(text string, n int) string {
	text = strings.ToValidUTF8(text, " ")
	runes := []rune(text)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

func hasLetters(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
