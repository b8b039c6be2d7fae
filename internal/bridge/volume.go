package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sshfs/sshfs/internal/cache"
)

// Reported when neither statvfs nor df answer.
const (
	defaultTotalBytes uint64 = 0x1900000000
	defaultUsedBytes  uint64 = 0xC80000000
	defaultFreeBytes  uint64 = 0xC80000000
)

// DefaultDiskSpace is the reply used when no source is available.
func DefaultDiskSpace() DiskSpace {
	return diskSpace(cache.DiskInfo{Total: defaultTotalBytes, Used: defaultUsedBytes, Free: defaultFreeBytes})
}

// diskSpace maps the triple onto the host reply, keeping the "used" slot
// in TotalFreeBytes.
func diskSpace(info cache.DiskInfo) DiskSpace {
	return DiskSpace{
		FreeBytesAvailable: info.Free,
		TotalBytes:         info.Total,
		TotalFreeBytes:     info.Used,
	}
}

// GetDiskFreeSpace reports capacity from statvfs, falling back to df, and
// caches the answer for a few minutes.
func (b *Bridge) GetDiskFreeSpace(fc *FileContext) (DiskSpace, Status) {
	var space DiskSpace
	status := b.guard("GetDiskFreeSpace", "/", fc, func() (Status, error) {
		if info, ok := b.cache.GetDiskInfo(); ok {
			space = diskSpace(info)
			return StatusSuccess, nil
		}

		info := cache.DiskInfo{Total: defaultTotalBytes, Used: defaultUsedBytes, Free: defaultFreeBytes}
		root := b.remotePath("/")
		if st, err := b.client.StatVFS(root); err == nil {
			info.Total = st.Blocks * st.Frsize
			info.Free = st.Bfree * st.Frsize
			info.Used = st.Bavail * st.Frsize
		} else {
			b.logger.Debug("statvfs unavailable, falling back to df", zap.Error(err))
			if df, ok := b.diskFree(root); ok {
				info = df
			}
		}

		b.cache.PutDiskInfo(info, diskInfoTTL)
		space = diskSpace(info)
		return StatusSuccess, nil
	})
	return space, status
}

func (b *Bridge) diskFree(root string) (cache.DiskInfo, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := fmt.Sprintf("%s -Pk %s", b.config.DFCommand, shellQuote(root))
	out, code, err := b.client.RunCommand(ctx, cmd)
	if err != nil || code != 0 {
		b.logger.Debug("df failed", zap.String("cmd", cmd), zap.Int("status", code), zap.Error(err))
		return cache.DiskInfo{}, false
	}
	return parseDF(out)
}

// parseDF reads the last data row of `df -Pk`, counting fields from the end
// so filesystem names containing spaces do not shift the columns.
func parseDF(out string) (cache.DiskInfo, bool) {
	fields := strings.Fields(out)
	if len(fields) < 5 {
		return cache.DiskInfo{}, false
	}
	var kb [3]uint64
	for i, f := range fields[len(fields)-5 : len(fields)-2] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return cache.DiskInfo{}, false
		}
		kb[i] = v << 10
	}
	return cache.DiskInfo{Total: kb[0], Used: kb[1], Free: kb[2]}, true
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// GetVolumeInformation returns the label and static capabilities.
func (b *Bridge) GetVolumeInformation(fc *FileContext) (VolumeInfo, Status) {
	return VolumeInfo{
		Label:          b.config.Label,
		FileSystemName: FileSystemName,
		Features: FeatureCasePreservedNames | FeatureCaseSensitiveSearch |
			FeatureSupportsRemoteStorage | FeatureUnicodeOnDisk | FeatureSequentialWriteOnce,
		MaximumComponentLength: maxComponentLength,
	}, StatusSuccess
}

// Mounted is called by the host once the volume is visible.
func (b *Bridge) Mounted(fc *FileContext) Status {
	b.logger.Info("volume mounted", zap.String("label", b.config.Label), zap.String("root", b.config.Root))
	return StatusSuccess
}

// Unmounted is called by the host after the volume is gone.
func (b *Bridge) Unmounted(fc *FileContext) Status {
	b.logger.Info("volume unmounted", zap.String("label", b.config.Label))
	return StatusSuccess
}
