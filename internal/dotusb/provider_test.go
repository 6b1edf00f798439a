package dotusb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"dotfleet/internal/testutils"
)

type ProviderTestSuite struct {
	suite.Suite

	root     string
	provider *Provider
}

func TestProviderTestSuite(t *testing.T) {
	suite.Run(t, new(ProviderTestSuite))
}

func (suite *ProviderTestSuite) SetupTest() {
	suite.root = suite.T().TempDir()
	suite.Require().NoError(os.MkdirAll(filepath.Join(suite.root, "class", "tty"), 0o755))

	suite.provider = NewProvider(testutils.QuietLogger())
	suite.provider.sysfsRoot = filepath.Join(suite.root, "class", "tty")
}

// seedPort lays out one CDC-ACM port the way the kernel does: the USB device
// directory holds idVendor and serial, the interface directory below it holds
// the tty node, and class/tty carries a symlink to that node. The node's
// `device` entry is a symlink back to the interface directory.
func (suite *ProviderTestSuite) seedPort(bus, tty, vendor, serial string) {
	usbDev := filepath.Join(suite.root, "devices", "usb1", bus)
	ttyNode := filepath.Join(usbDev, bus+":1.0", "tty", tty)
	suite.Require().NoError(os.MkdirAll(ttyNode, 0o755))

	if vendor != "" {
		suite.Require().NoError(os.WriteFile(filepath.Join(usbDev, "idVendor"), []byte(vendor+"\n"), 0o644))
	}
	if serial != "" {
		suite.Require().NoError(os.WriteFile(filepath.Join(usbDev, "serial"), []byte(serial+"\n"), 0o644))
	}

	suite.Require().NoError(os.Symlink("../..", filepath.Join(ttyNode, "device")))
	suite.Require().NoError(os.Symlink(ttyNode, filepath.Join(suite.provider.sysfsRoot, tty)))
}

func (suite *ProviderTestSuite) TestDetectUSBFindsDockedDot() {
	// GOAL: Verify detection walks from the class/tty symlink through the
	// device symlink up to the USB device attributes
	//
	// TEST SCENARIO: one dot docked, enumerated under the vendor ID

	suite.seedPort("1-1", "ttyACM0", vendorID, "D01234567890")

	handles, err := suite.provider.DetectUSB()
	suite.Require().NoError(err)
	suite.Require().Len(handles, 1, "a docked dot MUST be detected")
	suite.Assert().Equal("D01234567890", handles[0].DeviceID())
	suite.Assert().Equal("/dev/ttyACM0", handles[0].(*Handle).devnode)
}

func (suite *ProviderTestSuite) TestDetectUSBSkipsForeignVendor() {
	suite.seedPort("1-1", "ttyACM0", "1a86", "X99")
	suite.seedPort("1-2", "ttyACM1", vendorID, "D01234567890")

	handles, err := suite.provider.DetectUSB()
	suite.Require().NoError(err)
	suite.Require().Len(handles, 1)
	suite.Assert().Equal("D01234567890", handles[0].DeviceID())
}

func (suite *ProviderTestSuite) TestDetectUSBSkipsPortWithoutSerial() {
	suite.seedPort("1-1", "ttyACM0", vendorID, "")

	handles, err := suite.provider.DetectUSB()
	suite.Require().NoError(err)
	suite.Assert().Empty(handles, "a dot without a serial attribute MUST be skipped")
}

func (suite *ProviderTestSuite) TestDetectUSBSkipsDanglingDeviceLink() {
	// A port whose device symlink cannot be resolved is skipped rather than
	// failing the whole scan.
	suite.seedPort("1-1", "ttyACM0", vendorID, "D01234567890")
	ttyNode := filepath.Join(suite.root, "devices", "usb1", "1-1", "1-1:1.0", "tty", "ttyACM0")
	suite.Require().NoError(os.Remove(filepath.Join(ttyNode, "device")))
	suite.Require().NoError(os.Symlink("nowhere", filepath.Join(ttyNode, "device")))

	handles, err := suite.provider.DetectUSB()
	suite.Require().NoError(err)
	suite.Assert().Empty(handles)
}

func (suite *ProviderTestSuite) TestDetectUSBEmptyTree() {
	handles, err := suite.provider.DetectUSB()
	suite.Require().NoError(err)
	suite.Assert().Empty(handles)
}
