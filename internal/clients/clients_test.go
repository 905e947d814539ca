package clients

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	copies  []*s3.CopyObjectInput
	deletes []string
	copyErr error
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if f.copyErr != nil {
		return nil, f.copyErr
	}
	f.copies = append(f.copies, params)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deletes = append(f.deletes, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestProcessedKey(t *testing.T) {
	tests := []struct {
		key      string
		expected string
		ok       bool
	}{
		{"incoming/invoice.pdf", "processed/invoice.pdf", true},
		{"tenant/incoming/2024/a.png", "tenant/processed/2024/a.png", true},
		{"uploads/invoice.pdf", "uploads/invoice.pdf", false},
	}

	for _, tc := range tests {
		key, ok := ProcessedKey(tc.key)
		assert.Equal(t, tc.expected, key, tc.key)
		assert.Equal(t, tc.ok, ok, tc.key)
	}
}

func TestMoveToProcessed(t *testing.T) {
	api := &fakeS3{}
	client := NewS3ClientWithAPI(api)

	newKey, err := client.MoveToProcessed(context.Background(), "invoices", "incoming/March invoice.pdf")
	require.NoError(t, err)

	assert.Equal(t, "processed/March invoice.pdf", newKey)
	require.Len(t, api.copies, 1)
	assert.Equal(t, "invoices/incoming/March%20invoice.pdf", aws.ToString(api.copies[0].CopySource))
	assert.Equal(t, []string{"incoming/March invoice.pdf"}, api.deletes)
}

func TestMoveToProcessedSkipsOtherKeys(t *testing.T) {
	api := &fakeS3{}
	client := NewS3ClientWithAPI(api)

	newKey, err := client.MoveToProcessed(context.Background(), "invoices", "archive/invoice.pdf")
	require.NoError(t, err)

	assert.Empty(t, newKey)
	assert.Empty(t, api.copies)
	assert.Empty(t, api.deletes)
}

func TestMoveToProcessedKeepsOriginalOnCopyFailure(t *testing.T) {
	api := &fakeS3{copyErr: errors.New("AccessDenied")}
	client := NewS3ClientWithAPI(api)

	_, err := client.MoveToProcessed(context.Background(), "invoices", "incoming/invoice.pdf")
	require.Error(t, err)
	assert.Empty(t, api.deletes)
}

func TestFetch(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{"incoming/a.png": []byte("0123456789")}}
	client := NewS3ClientWithAPI(api)

	data, err := client.Fetch(context.Background(), "invoices", "incoming/a.png", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), data)

	_, err = client.Fetch(context.Background(), "invoices", "incoming/a.png", 5)
	require.Error(t, err)

	_, err = client.Fetch(context.Background(), "invoices", "incoming/missing.png", 0)
	require.Error(t, err)
}

type fakeTextract struct {
	input *textract.AnalyzeDocumentInput
	err   error
}

func (f *fakeTextract) AnalyzeDocument(ctx context.Context, params *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &textract.AnalyzeDocumentOutput{
		Blocks: []types.Block{{Id: aws.String("l1"), BlockType: types.BlockTypeLine, Text: aws.String("Total")}},
	}, nil
}

func TestAnalyzeDocumentS3Object(t *testing.T) {
	api := &fakeTextract{}
	client := NewTextractClientWithAPI(api)

	blocks, err := client.AnalyzeDocument(context.Background(), &AnalyzeRequest{Bucket: "invoices", Key: "incoming/a.pdf"})
	require.NoError(t, err)

	require.Len(t, blocks, 1)
	assert.Equal(t, "invoices", aws.ToString(api.input.Document.S3Object.Bucket))
	assert.Equal(t, "incoming/a.pdf", aws.ToString(api.input.Document.S3Object.Name))
	assert.ElementsMatch(t, []types.FeatureType{types.FeatureTypeForms, types.FeatureTypeTables}, api.input.FeatureTypes)
}

func TestAnalyzeDocumentBytes(t *testing.T) {
	api := &fakeTextract{}
	client := NewTextractClientWithAPI(api)

	_, err := client.AnalyzeDocument(context.Background(), &AnalyzeRequest{Bytes: []byte{0x89, 'P', 'N', 'G'}})
	require.NoError(t, err)
	assert.Nil(t, api.input.Document.S3Object)
	assert.NotEmpty(t, api.input.Document.Bytes)

	_, err = client.AnalyzeDocument(context.Background(), &AnalyzeRequest{})
	require.Error(t, err)
}

func TestAnalyzeDocumentClassifiesRejectedDocuments(t *testing.T) {
	api := &fakeTextract{err: &smithy.GenericAPIError{Code: "UnsupportedDocumentException", Message: "Request has unsupported document format"}}
	client := NewTextractClientWithAPI(api)

	_, err := client.AnalyzeDocument(context.Background(), &AnalyzeRequest{Bucket: "invoices", Key: "incoming/a.docx"})
	require.ErrorIs(t, err, ErrUnsupportedDocument)
	assert.Contains(t, err.Error(), "unsupported document format")

	api.err = &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded"}

	_, err = client.AnalyzeDocument(context.Background(), &AnalyzeRequest{Bucket: "invoices", Key: "incoming/a.pdf"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedDocument)
}
