package dataProcess

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

/*
该文件实现 IDX 格式数据集的加载（MNIST 使用的 gzip 压缩格式）
*/

const (
	imagesMagic = 2051
	labelsMagic = 2049

	// maxImageSize 单张图像允许的最大像素数
	maxImageSize = 1 << 24
)

type Dataset struct {
	Images [][]byte
	Labels []byte
}

// LoadImages 从 gzip 压缩的 IDX 文件加载图像数据
func LoadImages(filename string) ([][]byte, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "无法打开图像文件")
	}
	defer file.Close()

	// 解压缩文件
	reader, err := gzip.NewReader(file)
	if err != nil {
		return nil, errors.Wrap(err, "无法解压缩文件")
	}
	defer reader.Close()

	return ReadImages(reader)
}

// ReadImages 从未压缩的 IDX 数据流读取图像
func ReadImages(r io.Reader) ([][]byte, error) {
	// 读取 IDX 头信息（魔数、维度等）
	var header struct {
		Magic, NumImages, NumRows, NumCols int32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "读取图像头信息失败")
	}
	if header.Magic != imagesMagic {
		return nil, errors.Errorf("文件格式不正确（魔数 %d 不匹配）", header.Magic)
	}
	if header.NumImages < 0 || header.NumRows <= 0 || header.NumCols <= 0 {
		return nil, errors.Errorf("图像维度非法: %d x %d x %d", header.NumImages, header.NumRows, header.NumCols)
	}
	size := int64(header.NumRows) * int64(header.NumCols)
	if size > maxImageSize {
		return nil, errors.Errorf("单张图像过大: %d x %d", header.NumRows, header.NumCols)
	}

	// 读取图像数据，按实际读到的数量增长，不按头信息预分配
	var images [][]byte
	for i := 0; i < int(header.NumImages); i++ {
		img := make([]byte, size)
		if _, err := io.ReadFull(r, img); err != nil {
			return nil, errors.Wrapf(err, "读取第 %d 张图像失败", i)
		}
		images = append(images, img)
	}
	return images, nil
}

// LoadLabels 从 gzip 压缩的 IDX 文件加载标签数据
func LoadLabels(filename string) ([]byte, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "无法打开标签文件")
	}
	defer file.Close()

	reader, err := gzip.NewReader(file)
	if err != nil {
		return nil, errors.Wrap(err, "无法解压缩文件")
	}
	defer reader.Close()

	return ReadLabels(reader)
}

// ReadLabels 从未压缩的 IDX 数据流读取标签
func ReadLabels(r io.Reader) ([]byte, error) {
	// 魔数用于验证文件的格式是否正确
	var magicNumber, numItems int32
	if err := binary.Read(r, binary.BigEndian, &magicNumber); err != nil {
		return nil, errors.Wrap(err, "读取魔数失败")
	}
	if magicNumber != labelsMagic {
		return nil, errors.Errorf("文件格式不正确（魔数 %d 不匹配）", magicNumber)
	}
	if err := binary.Read(r, binary.BigEndian, &numItems); err != nil {
		return nil, errors.Wrap(err, "读取标签数量失败")
	}
	if numItems < 0 {
		return nil, errors.Errorf("标签数量非法: %d", numItems)
	}

	labels, err := io.ReadAll(io.LimitReader(r, int64(numItems)))
	if err != nil {
		return nil, errors.Wrap(err, "读取标签数据失败")
	}
	if len(labels) != int(numItems) {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "标签数据不完整: 声明 %d 个, 实际 %d 个", numItems, len(labels))
	}
	return labels, nil
}

// LoadIDXDataset 加载一对图像、标签文件
func LoadIDXDataset(imagesPath, labelsPath string) (*Dataset, error) {
	images, err := LoadImages(imagesPath)
	if err != nil {
		return nil, errors.Wrapf(err, "加载图像数据 %s 失败", imagesPath)
	}
	labels, err := LoadLabels(labelsPath)
	if err != nil {
		return nil, errors.Wrapf(err, "加载标签数据 %s 失败", labelsPath)
	}
	if len(images) != len(labels) {
		return nil, errors.Errorf("图像数量 %d 与标签数量 %d 不一致", len(images), len(labels))
	}
	return &Dataset{Images: images, Labels: labels}, nil
}
