package export

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// candleRecord is the fixed parquet schema for flattened candles. Extra
// source fields are dropped here: parquet has no open-ended column set.
type candleRecord struct {
	Symbol    string   `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Interval  string   `parquet:"name=interval, type=BYTE_ARRAY, convertedtype=UTF8"`
	TS        int64    `parquet:"name=ts, type=INT64"`
	Open      float64  `parquet:"name=o, type=DOUBLE"`
	High      float64  `parquet:"name=h, type=DOUBLE"`
	Low       float64  `parquet:"name=l, type=DOUBLE"`
	Close     float64  `parquet:"name=c, type=DOUBLE"`
	Volume    float64  `parquet:"name=v, type=DOUBLE"`
	BuyVolume *float64 `parquet:"name=bv, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// WriteParquet writes the rows to path as a snappy-compressed parquet file.
func WriteParquet(path string, rows []Row) error {
	f, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	pw, err := writer.NewParquetWriter(f, new(candleRecord), 1)
	if err != nil {
		return fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, row := range rows {
		rec := candleRecord{
			Symbol:    row.Symbol,
			Interval:  row.Interval,
			TS:        row.TS,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
			BuyVolume: row.BuyVolume,
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return fmt.Errorf("write candle record %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet: %w", err)
	}
	return f.Close()
}
